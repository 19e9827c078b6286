package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

func newWhoamiCommand() *Command {
	cmd := &Command{
		Name:        "whoami",
		Description: "Show the logged-in identity and permissions",
		Flags:       flag.NewFlagSet("whoami", flag.ExitOnError),
	}

	asJSON := cmd.Flags.Bool("json", false, "Print the raw identity JSON")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		creds, err := LoadCredentials()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := NewClient(creds.ServerURL)
		if creds.Expired() {
			pair, err := client.Refresh(ctx, creds.RefreshToken)
			if err != nil {
				return fmt.Errorf("session expired; run 'dashborion login' again")
			}
			creds.AccessToken = pair.AccessToken
			creds.RefreshToken = pair.RefreshToken
			creds.ExpiresAt = time.Now().Add(time.Duration(pair.ExpiresIn) * time.Second)
			if err := SaveCredentials(creds); err != nil {
				return err
			}
		}

		ident, err := client.WhoAmI(ctx, creds.AccessToken)
		if err != nil {
			return err
		}

		if *asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ident)
		}

		fmt.Printf("Email:  %s\n", ident.Email)
		if ident.DisplayName != "" {
			fmt.Printf("Name:   %s\n", ident.DisplayName)
		}
		fmt.Printf("Method: %s\n", ident.Method)
		if len(ident.Groups) > 0 {
			fmt.Printf("Groups: %v\n", ident.Groups)
		}
		return nil
	}

	return cmd
}
