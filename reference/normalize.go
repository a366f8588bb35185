package reference

import "golang.org/x/text/secure/precis"

// NormalizeUsername applies PRECIS username case-mapping before a SASL
// credential or user-store key is compared, so "Alice" and "alice" are
// treated as the same account. On error it returns the original string
// unchanged, so a caller can always fall back to comparing it as-is.
func NormalizeUsername(user string) (string, error) {
	norm, err := precis.UsernameCaseMapped.String(user)
	if err != nil {
		return user, err
	}
	return norm, nil
}
