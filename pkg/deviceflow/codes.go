package deviceflow

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// userCodeLetters omits vowels and ambiguous glyphs so codes survive being
// read over the phone.
const userCodeLetters = "BCDFGHJKLMNPQRSTVWXZ"

var userCodePattern = regexp.MustCompile(`^[A-Z]{4}-[0-9]{4}$`)

// generateDeviceCode returns a high-entropy opaque device code.
func generateDeviceCode() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate device code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// generateUserCode returns a short code in the form "ABCD-1234".
func generateUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate user code: %w", err)
	}

	var b strings.Builder
	for i := 0; i < 4; i++ {
		b.WriteByte(userCodeLetters[int(buf[i])%len(userCodeLetters)])
	}
	b.WriteByte('-')
	for i := 4; i < 8; i++ {
		b.WriteByte('0' + buf[i]%10)
	}
	return b.String(), nil
}

// NormalizeUserCode maps user input onto the canonical code form: uppercase,
// with a dash between the halves even if the user omitted it.
func NormalizeUserCode(input string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(input))
	code = strings.ReplaceAll(code, " ", "")
	if len(code) == 8 && !strings.Contains(code, "-") {
		code = code[:4] + "-" + code[4:]
	}
	if !userCodePattern.MatchString(code) {
		return "", fmt.Errorf("malformed user code")
	}
	return code, nil
}
