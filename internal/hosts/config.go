package hosts

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/pkg/builder"
)

// Config is one host record from hosts.yaml
type Config struct {
	Host        string                 `yaml:"host" validate:"required"`
	Network     map[string]any         `yaml:"network,omitempty"`
	Clients     []builder.EntityRecord `yaml:"clients,omitempty" validate:"dive"`
	Certs       []CertConfig           `yaml:"certs,omitempty" validate:"dive"`
	Description string                 `yaml:"description,omitempty"`
}

// CertConfig names a stored certificate and where it goes on the host
type CertConfig struct {
	Name   string       `yaml:"name" validate:"required"`
	Secret string       `yaml:"secret" validate:"required"`
	Deploy DeployConfig `yaml:"deploy"`
}

// DeployConfig lists the destinations for each certificate component. Empty
// destinations are skipped.
type DeployConfig struct {
	Client    string         `yaml:"client" validate:"required"`
	Fullchain string         `yaml:"fullchain,omitempty"`
	Private   string         `yaml:"private,omitempty"`
	Cert      string         `yaml:"cert,omitempty"`
	Chain     string         `yaml:"chain,omitempty"`
	Post      []ClientAction `yaml:"post,omitempty" validate:"dive"`
}

// ClientAction is an ordered list of commands run through one client
type ClientAction struct {
	Client  string   `yaml:"client" validate:"required"`
	Actions []string `yaml:"actions"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the record's required fields. The returned
// ValidationError names the offending field below "hosts.<name>".
func (c Config) Validate(name string) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return qerrors.ValidationError{Field: "hosts." + name, Message: err.Error()}
	}
	fe := fieldErrs[0]
	_, path, _ := strings.Cut(fe.Namespace(), ".")

	message := "is required"
	if fe.Tag() != "required" {
		message = fmt.Sprintf("failed '%s' check", fe.Tag())
	}
	return qerrors.ValidationError{Field: "hosts." + name + "." + path, Message: message}
}

// Cert returns the certificate deployment named name
func (c Config) Cert(name string) (CertConfig, bool) {
	for _, cert := range c.Certs {
		if cert.Name == name {
			return cert, true
		}
	}
	return CertConfig{}, false
}
