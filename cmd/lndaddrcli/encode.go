package main

import (
	"fmt"

	"github.com/ellemouton/lndaddr"
	"github.com/urfave/cli/v2"
)

var encodeCommand = &cli.Command{
	Name:      "encode",
	Usage:     "Encode a URL as LNURL",
	ArgsUsage: "url",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("expected exactly one url")
		}

		lnurl, err := lndaddr.EncodeURL(ctx.Args().First())
		if err != nil {
			return err
		}

		fmt.Println(lnurl)

		return nil
	},
}

var decodeCommand = &cli.Command{
	Name:      "decode",
	Usage:     "Decode an LNURL",
	ArgsUsage: "lnurl",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("expected exactly one lnurl")
		}

		url, err := lndaddr.DecodeURL(ctx.Args().First())
		if err != nil {
			return err
		}

		fmt.Println(url)

		return nil
	},
}
