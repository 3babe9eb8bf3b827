package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cryguy/swkit/internal/core"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("strategy", func(fl validator.FieldLevel) bool {
		_, ok := core.ParseStrategy(fl.Field().String())
		return ok
	})
	return v
}

// Validate checks cfg against its struct tags and reports every failing
// field by its config key.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return checkPolicies(cfg.Policies)
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func checkPolicies(policies []PolicyConfig) error {
	seen := make(map[string]struct{}, len(policies))
	for _, p := range policies {
		if _, dup := seen[p.Pattern]; dup {
			return fmt.Errorf("policies: duplicate pattern %q", p.Pattern)
		}
		seen[p.Pattern] = struct{}{}
	}
	return nil
}
