package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateStorage, StorageConfig{})
	return v
}

// validateStorage enforces the fields each backend needs.
func validateStorage(sl validator.StructLevel) {
	s := sl.Current().Interface().(StorageConfig)
	switch s.Backend {
	case "local", "badger":
		if s.Path == "" {
			sl.ReportError(s.Path, "Path", "path", "required_for_backend", s.Backend)
		}
	case "s3", "minio":
		if s.Bucket == "" {
			sl.ReportError(s.Bucket, "Bucket", "bucket", "required_for_backend", s.Backend)
		}
	}
	if s.Backend == "minio" && s.Endpoint == "" {
		sl.ReportError(s.Endpoint, "Endpoint", "endpoint", "required_for_backend", s.Backend)
	}
}

// Validate checks cfg and returns one error describing every violation.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
