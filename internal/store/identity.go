package store

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

var ErrInvalidIdentity = errors.New("invalid identity address")
var ErrInvalidWorkspace = errors.New("invalid workspace address")

// Identity is the stable author address that owns documents.
type Identity struct {
	Address string `json:"address"`
}

func (id Identity) IsZero() bool {
	return id.Address == ""
}

func (id Identity) String() string {
	return id.Address
}

// ValidateAuthor checks the @shortname.key form of an author address.
func ValidateAuthor(address string) error {
	if err := validateAddress(address, '@'); err != nil {
		return errors.Wrapf(ErrInvalidIdentity, "%q: %s", address, err.Error())
	}
	return nil
}

// ValidateWorkspace checks the +name.suffix form of a workspace address.
func ValidateWorkspace(address string) error {
	if err := validateAddress(address, '+'); err != nil {
		return errors.Wrapf(ErrInvalidWorkspace, "%q: %s", address, err.Error())
	}
	return nil
}

func validateAddress(address string, sigil byte) error {
	if len(address) < 4 || address[0] != sigil {
		return errors.Errorf("must start with %q", sigil)
	}

	dot := strings.IndexByte(address, '.')
	if dot < 2 || dot == len(address)-1 {
		return errors.New("must look like <name>.<key>")
	}

	for _, r := range address[1:] {
		if r > unicode.MaxASCII || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return errors.New("must be printable ascii without spaces")
		}
	}

	return nil
}
