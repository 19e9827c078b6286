package cli

import (
	"context"
	"flag"
	"fmt"
	"time"
)

func newLogoutCommand() *Command {
	cmd := &Command{
		Name:        "logout",
		Description: "Revoke the current token and delete saved credentials",
		Flags:       flag.NewFlagSet("logout", flag.ExitOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		creds, err := LoadCredentials()
		if err != nil {
			// Nothing saved; nothing to revoke.
			fmt.Println("Not logged in.")
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := NewClient(creds.ServerURL)
		if err := client.Logout(ctx, creds.AccessToken); err != nil {
			// Still delete the local file; the token will age out.
			fmt.Printf("Warning: server-side revocation failed: %v\n", err)
		}

		if err := DeleteCredentials(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	}

	return cmd
}
