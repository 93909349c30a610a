package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// Report paths with the config key names instead of Go field names.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			_, err := parseDuration(fl.FieldName(), fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
			switch strings.ToLower(strings.TrimSpace(fl.Field().String())) {
			case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled", "off":
				return true
			}
			return false
		})
		v.RegisterStructValidation(func(sl validator.StructLevel) {
			ec := sl.Current().Interface().(ExecutorConfig)
			if ec.CoreWorkers > 0 && ec.MaxWorkers > 0 && ec.MaxWorkers < ec.CoreWorkers {
				sl.ReportError(ec.MaxWorkers, "max_workers", "MaxWorkers", "gtefield_core", "")
			}
		}, ExecutorConfig{})
		validate = v
	})
	return validate
}

// Validate checks cfg and joins every violation into one error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	err := structValidator().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: %s", trimRoot(fe.Namespace()), describe(fe)))
	}
	return fmt.Errorf("invalid config: %w", errors.Join(msgs...))
}

// Validator adapts Validate to ConfigManager.SetValidator.
func Validator(_ context.Context, cfg *Config) error { return Validate(cfg) }

func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "duration":
		return fmt.Sprintf("invalid duration %q", fe.Value())
	case "timezone":
		return fmt.Sprintf("unknown timezone %q", fe.Value())
	case "loglevel":
		return fmt.Sprintf("unknown log level %q", fe.Value())
	case "unique":
		return "task ids must be unique"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "excluded_with":
		return fmt.Sprintf("cannot be combined with %s", strings.ToLower(fe.Param()))
	case "gtefield_core":
		return "must be >= core_workers"
	case "gte", "lte":
		return fmt.Sprintf("must be %s %s", map[string]string{"gte": ">=", "lte": "<="}[fe.Tag()], fe.Param())
	default:
		return fmt.Sprintf("failed %q", fe.Tag())
	}
}
