package sessioncrypto

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/dashborion/dashborion/pkg/autherr"
)

// KeySource loads session key material at startup. Implementations must not
// log or otherwise retain the returned bytes.
type KeySource interface {
	Load(ctx context.Context) ([]byte, error)
}

// EnvKeySource reads key material from an environment variable, encoded as
// hex (64 chars) or standard base64.
type EnvKeySource struct {
	Var string
}

// Load reads and decodes the key.
func (s EnvKeySource) Load(_ context.Context) ([]byte, error) {
	raw := os.Getenv(s.Var)
	if raw == "" {
		return nil, fmt.Errorf("%w: environment variable %s is not set",
			autherr.ErrConfigurationError, s.Var)
	}
	return decodeKey(raw)
}

// SSMAPI is the subset of the Parameter Store client the SSMKeySource needs.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMKeySource fetches key material from AWS Systems Manager Parameter Store
// (a SecureString parameter, decrypted server-side).
type SSMKeySource struct {
	Client    SSMAPI
	Parameter string
}

// Load fetches and decodes the key parameter.
func (s SSMKeySource) Load(ctx context.Context) ([]byte, error) {
	if s.Parameter == "" {
		return nil, fmt.Errorf("%w: SSM key parameter name is empty", autherr.ErrConfigurationError)
	}

	out, err := s.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.Parameter),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch session key from SSM: %v",
			autherr.ErrConfigurationError, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("%w: SSM parameter %s has no value",
			autherr.ErrConfigurationError, s.Parameter)
	}

	return decodeKey(aws.ToString(out.Parameter.Value))
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(raw); err == nil {
			return key, nil
		}
	}

	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: session key is neither hex nor base64",
			autherr.ErrConfigurationError)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: decoded session key is %d bytes, want %d",
			autherr.ErrConfigurationError, len(key), KeySize)
	}
	return key, nil
}
