package cli

import (
	"context"
	"flag"
	"fmt"
	"time"
)

func newLoginCommand() *Command {
	cmd := &Command{
		Name:        "login",
		Description: "Log in via the device flow",
		Flags:       flag.NewFlagSet("login", flag.ExitOnError),
	}

	server := cmd.Flags.String("server", "", "Server base URL (default: DASHBORION_URL)")
	timeout := cmd.Flags.Duration("timeout", 15*time.Minute, "How long to wait for browser approval")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		base, err := serverURL(*server)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()

		client := NewClient(base)
		authz, err := client.StartDeviceFlow(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("To log in, open:\n\n    %s\n\nand enter code: %s\n\n",
			authz.VerificationURI, authz.UserCode)
		if authz.VerificationURIComplete != "" {
			fmt.Printf("Or open directly: %s\n\n", authz.VerificationURIComplete)
		}
		fmt.Println("Waiting for approval...")

		pair, err := client.PollToken(ctx, authz)
		if err != nil {
			return err
		}

		creds := &Credentials{
			ServerURL:    base,
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresAt:    time.Now().Add(time.Duration(pair.ExpiresIn) * time.Second),
		}
		if err := SaveCredentials(creds); err != nil {
			return err
		}

		ident, err := client.WhoAmI(ctx, pair.AccessToken)
		if err != nil {
			fmt.Println("Logged in.")
			return nil
		}
		fmt.Printf("Logged in as %s\n", ident.Email)
		return nil
	}

	return cmd
}
