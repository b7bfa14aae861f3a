package main

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ellemouton/lndaddr"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/urfave/cli/v2"
)

var payRequestCommand = &cli.Command{
	Name:        "pay",
	Usage:       "Pay to LNURL",
	Description: `Pay to a static LNURL or lightning address`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "lnurl",
			Usage: "The LNURL or lightning address to pay to.",
		},
		&cli.Uint64Flag{
			Name:  "amt",
			Usage: "The amt of millisats to pay",
		},
		&cli.StringFlag{
			Name:  "comment",
			Usage: "optional comment sent to the receiver",
		},
		&cli.Int64Flag{
			Name:  "maxfee",
			Usage: "max fee to pay for this payment (in sats)",
			Value: 10,
		},
		&cli.BoolFlag{
			Name:  "notls",
			Usage: "set to true to use http instead of https",
		},
	},
	Action: payToLNURL,
}

func payToLNURL(ctx *cli.Context) error {
	// LNURL must be specified.
	lnurl := ctx.String("lnurl")
	if lnurl == "" {
		return fmt.Errorf("missing '--lnurl' flag")
	}

	payURL, err := resolvePayURL(lnurl, ctx.Bool("notls"))
	if err != nil {
		return err
	}

	params, err := networkParams(ctx.String("network"))
	if err != nil {
		return err
	}

	// Make a GET request to the decoded LNURL.
	var payResp lndaddr.PayResponse
	if err := get(payURL, &payResp); err != nil {
		return err
	}

	desc, err := checkPayResponse(&payResp)
	if err != nil {
		return err
	}
	fmt.Printf("Paying to: %s\n", desc)

	comment := ctx.String("comment")
	if utf8.RuneCountInString(comment) > payResp.CommentAllowed {
		return fmt.Errorf("comment too long, %d characters allowed",
			payResp.CommentAllowed)
	}

	// Check if the user specified an amount in the original call. If they
	// did not or if the specified amount is not within the bounds specified
	// in the server response, ask the user to enter a valid amount.
	minSendable, maxSendable := payResp.MinSendable, payResp.MaxSendable
	millisats := ctx.Uint64("amt")
	for millisats < minSendable || millisats > maxSendable {
		reader := bufio.NewReader(os.Stdin)
		fmt.Printf("Enter an amount (in millisatoshis) between "+
			"%d and %d\n", minSendable, maxSendable)

		userInput, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("could not read from console: %w",
				err)
		}
		userInput = strings.TrimSpace(userInput)

		millisats, err = strconv.ParseUint(userInput, 10, 64)
		if err != nil {
			fmt.Printf("error parsing input: %v\n", err)
			continue
		}

		if millisats < minSendable || millisats > maxSendable {
			fmt.Printf("Invalid amount. Expected an amount "+
				"between %d and %d, got %d\n", minSendable,
				maxSendable, millisats)
		}
	}

	getInvoice, err := callbackURL(payResp.Callback, millisats, comment)
	if err != nil {
		return err
	}

	var invoice lndaddr.InvoiceResponse
	if err := get(getInvoice, &invoice); err != nil {
		return err
	}

	err = checkInvoice(
		invoice.PayRequest, payResp.Metadata,
		lnwire.MilliSatoshi(millisats), params,
	)
	if err != nil {
		return err
	}

	lndClient, err := getLND(ctx)
	if err != nil {
		return fmt.Errorf("could not connect to LND: %w", err)
	}
	defer lndClient.Close()

	res := <-lndClient.Client.PayInvoice(
		ctx.Context, invoice.PayRequest,
		btcutil.Amount(ctx.Int64("maxfee")), nil,
	)

	if res.Err != nil {
		return fmt.Errorf("could not pay invoice: %w", res.Err)
	}

	fmt.Printf("Successful payment! Preimage: %s\n", res.Preimage)

	return nil
}

// resolvePayURL turns an LNURL, lnurlp:// URL or lightning address into the
// URL of the pay request.
func resolvePayURL(lnurl string, noTLS bool) (string, error) {
	protocol := "https"
	if noTLS {
		protocol = "http"
	}

	var (
		payURL string
		err    error
	)
	switch {
	case strings.HasPrefix(lnurl, "lightning:"):
		payURL, err = lndaddr.DecodeURL(
			strings.TrimPrefix(lnurl, "lightning:"),
		)
		if err != nil {
			return "", fmt.Errorf("error decoding LNURL: %w", err)
		}

	case strings.HasPrefix(lnurl, "lnurlp://"):
		payURL = strings.Replace(lnurl, "lnurlp", protocol, 1)

	case strings.Contains(lnurl, "@"):
		// This is an LN Address:
		parts := strings.Split(lnurl, "@")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", fmt.Errorf("invalid LN address. Expected " +
				"the form <username>@<domain>")
		}

		username, domain := parts[0], parts[1]
		payURL = fmt.Sprintf("%s://%s/.well-known/lnurlp/%s",
			protocol, domain, strings.ToLower(username))

	case strings.HasPrefix(strings.ToUpper(lnurl), "LNURL"):
		payURL, err = lndaddr.DecodeURL(lnurl)
		if err != nil {
			return "", fmt.Errorf("error decoding LNURL: %w", err)
		}

	default:
		return "", fmt.Errorf("unsupported scheme")
	}

	// Ensure that the url uses the tls if we have not set --notls
	if !noTLS && !strings.HasPrefix(payURL, "https") {
		return "", fmt.Errorf("url is not https")
	}

	return payURL, nil
}

// checkPayResponse validates the first contact response and returns the
// text/plain description.
func checkPayResponse(payResp *lndaddr.PayResponse) (string, error) {
	if payResp.Tag != lndaddr.TypePayRequest {
		return "", fmt.Errorf("unexpected tag %q", payResp.Tag)
	}

	if payResp.MinSendable > payResp.MaxSendable {
		return "", fmt.Errorf("minSendable %d is greater than "+
			"maxSendable %d", payResp.MinSendable,
			payResp.MaxSendable)
	}

	var metadata lndaddr.Metadata
	err := json.Unmarshal([]byte(payResp.Metadata), &metadata)
	if err != nil {
		return "", fmt.Errorf("invalid metadata: %w", err)
	}

	// Ensure that the response contains the necessary metadata field.
	desc := metadata.Description()
	if desc == "" {
		return "", fmt.Errorf("response metadata does not contain the " +
			"required 'text/plain' field")
	}

	return desc, nil
}

// callbackURL appends the amount and the optional comment to the callback.
func callbackURL(callback string, millisats uint64,
	comment string) (string, error) {

	u, err := url.Parse(callback)
	if err != nil {
		return "", fmt.Errorf("invalid callback: %w", err)
	}

	query := u.Query()
	query.Set("amount", strconv.FormatUint(millisats, 10))
	if comment != "" {
		query.Set("comment", comment)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// checkInvoice ensures that the invoice commits to the metadata received
// before and is for the requested amount.
func checkInvoice(payReq, metadata string, amt lnwire.MilliSatoshi,
	params *chaincfg.Params) error {

	inv, err := zpay32.Decode(payReq, params)
	if err != nil {
		return err
	}

	hash := sha256.Sum256([]byte(metadata))
	if inv.DescriptionHash == nil ||
		!bytes.Equal(inv.DescriptionHash[:], hash[:]) {

		return fmt.Errorf("invalid invoice description hash")
	}

	var invAmt lnwire.MilliSatoshi
	if inv.MilliSat != nil {
		invAmt = *inv.MilliSat
	}
	if invAmt != amt {
		return fmt.Errorf("invoice amount %v does not match the "+
			"requested amount %v", invAmt, amt)
	}

	return nil
}

func networkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}
