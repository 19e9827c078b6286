package cli

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/dashborion/dashborion/pkg/awsident"
)

const stsBody = "Action=GetCallerIdentity&Version=2011-06-15"

func newIAMProofCommand() *Command {
	cmd := &Command{
		Name:        "iam-proof",
		Description: "Emit SigV4 identity-proof headers from ambient AWS credentials",
		Flags:       flag.NewFlagSet("iam-proof", flag.ExitOnError),
	}

	region := cmd.Flags.String("region", "", "AWS region for the STS endpoint (default: SDK resolution)")
	serverID := cmd.Flags.String("server-id", os.Getenv("DASHBORION_SERVER_ID"),
		"Server identity to bind the proof to")
	check := cmd.Flags.Bool("check", true, "Call STS locally first to show which identity is being proved")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var loadOpts []func(*awsconfig.LoadOptions) error
		if *region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(*region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		if awsCfg.Region == "" {
			awsCfg.Region = "us-east-1"
		}

		if *check {
			out, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
			if err != nil {
				return fmt.Errorf("AWS credentials are not usable: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Proving identity: %s\n", aws.ToString(out.Arn))
		}

		creds, err := awsCfg.Credentials.Retrieve(ctx)
		if err != nil {
			return fmt.Errorf("no AWS credentials available: %w", err)
		}

		headers, err := signProofHeaders(ctx, creds, awsCfg.Region, *serverID, time.Now())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(headers)
	}

	return cmd
}

// signProofHeaders signs a GetCallerIdentity request with the given
// credentials and encodes it into the proof header set the server verifies.
// The signed request is never sent from here; the server forwards it to STS.
func signProofHeaders(ctx context.Context, creds aws.Credentials, region, serverID string, at time.Time) (map[string]string, error) {
	endpoint := fmt.Sprintf("https://sts.%s.amazonaws.com/", region)
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(stsBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	sum := sha256.Sum256([]byte(stsBody))
	signer := v4.NewSigner()
	if err := signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), "sts", region, at); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	signed := make(map[string]string, len(req.Header)+1)
	for name := range req.Header {
		signed[name] = req.Header.Get(name)
	}
	signed["Host"] = req.URL.Host

	headerJSON, err := json.Marshal(signed)
	if err != nil {
		return nil, err
	}

	out := map[string]string{
		awsident.HeaderMethod:  http.MethodPost,
		awsident.HeaderURL:     base64.StdEncoding.EncodeToString([]byte(req.URL.String())),
		awsident.HeaderBody:    base64.StdEncoding.EncodeToString([]byte(stsBody)),
		awsident.HeaderHeaders: base64.StdEncoding.EncodeToString(headerJSON),
	}
	if serverID != "" {
		out[awsident.HeaderServerID] = serverID
	}
	return out, nil
}
