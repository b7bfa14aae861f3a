package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ellemouton/lndaddr"
	"github.com/lightninglabs/lndclient"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()

	app.Name = "lndaddrcli"
	app.Usage = "Control plane for lndaddr and a wallet side LNURL client"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "adminhost",
			Value: lndaddr.DefaultAdminListen,
			Usage: "lndaddr admin API address",
		},
		&cli.StringFlag{
			Name:  "host",
			Value: "localhost:10009",
			Usage: "lnd instance rpc address, used by pay",
		},
		&cli.StringFlag{
			Name:  "network",
			Value: "mainnet",
			Usage: "the network lnd is running on",
		},
		&cli.StringFlag{
			Name:  "macpath",
			Usage: "Path to lnd's mac dir",
		},
		&cli.StringFlag{
			Name:  "tlspath",
			Usage: "Path to lnd's tls cert",
		},
	}
	app.Commands = []*cli.Command{
		addUserCommand,
		delUserCommand,
		listUserCommand,
		encodeCommand,
		decodeCommand,
		payRequestCommand,
	}

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[lndaddrcli] %v\n", err)
	os.Exit(1)
}

func get(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("GET request error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}

	// Services answer with an error envelope instead of the expected
	// response.
	var lnurlErr lndaddr.Error
	if err := json.Unmarshal(body, &lnurlErr); err == nil &&
		lnurlErr.Status == lndaddr.StatusError {

		return fmt.Errorf("service error: %s", lnurlErr.Reason)
	}

	return json.Unmarshal(body, out)
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}

	fmt.Println(string(b))

	return nil
}

func getAdminClient(ctx *cli.Context) *lndaddr.AdminClient {
	return lndaddr.NewAdminClient(ctx.String("adminhost"))
}

func getLND(ctx *cli.Context) (*lndclient.GrpcLndServices, error) {
	return lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:  ctx.String("host"),
		Network:     lndclient.Network(ctx.String("network")),
		MacaroonDir: ctx.String("macpath"),
		TLSPath:     ctx.String("tlspath"),
	})
}
