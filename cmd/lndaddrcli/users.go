package main

import (
	"fmt"

	"github.com/ellemouton/lndaddr/accounts"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/urfave/cli/v2"
)

var addUserCommand = &cli.Command{
	Name:      "adduser",
	Usage:     "Add a lightning address",
	ArgsUsage: "username",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "email",
			Usage: "the address is also a valid email address",
		},
		&cli.StringFlag{
			Name:  "description",
			Usage: "description shown to payers, defaults to the " +
				"global description",
		},
		&cli.Uint64Flag{
			Name:  "minreceivable",
			Usage: "minimum amount in msat, defaults to the global " +
				"minimum",
		},
		&cli.Uint64Flag{
			Name:  "maxreceivable",
			Usage: "maximum amount in msat, defaults to the global " +
				"maximum",
		},
	},
	Action: addUser,
}

func addUser(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one username")
	}

	acct := &accounts.Account{
		Username:    ctx.Args().First(),
		IsEmail:     ctx.Bool("email"),
		Description: ctx.String("description"),
	}
	if ctx.IsSet("minreceivable") {
		minAmt := lnwire.MilliSatoshi(ctx.Uint64("minreceivable"))
		acct.MinReceivable = &minAmt
	}
	if ctx.IsSet("maxreceivable") {
		maxAmt := lnwire.MilliSatoshi(ctx.Uint64("maxreceivable"))
		acct.MaxReceivable = &maxAmt
	}

	info, err := getAdminClient(ctx).AddUser(ctx.Context, acct)
	if err != nil {
		return err
	}

	return printJSON(info)
}

var delUserCommand = &cli.Command{
	Name:      "deluser",
	Usage:     "Delete a lightning address",
	ArgsUsage: "username",
	Action:    delUser,
}

func delUser(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one username")
	}

	info, err := getAdminClient(ctx).DeleteUser(
		ctx.Context, ctx.Args().First(),
	)
	if err != nil {
		return err
	}

	return printJSON(info)
}

var listUserCommand = &cli.Command{
	Name:      "listuser",
	Usage:     "List all lightning addresses or a single one",
	ArgsUsage: "[username]",
	Action:    listUser,
}

func listUser(ctx *cli.Context) error {
	users, err := getAdminClient(ctx).ListUsers(
		ctx.Context, ctx.Args().First(),
	)
	if err != nil {
		return err
	}

	return printJSON(users)
}
