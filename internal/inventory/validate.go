package inventory

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/agent462/netcollect/internal/report"
)

var outputIDRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("outputid", validateOutputID)
	return v
}

// validateOutputID accepts ids that are safe as a file name component.
func validateOutputID(fl validator.FieldLevel) bool {
	return ValidOutputID(fl.Field().String())
}

// ValidOutputID reports whether id can name an output artifact.
func ValidOutputID(id string) bool {
	return outputIDRe.MatchString(id) && id != "." && id != ".."
}

// Validate checks field constraints and cross-references. Every problem is
// reported, not only the first.
func (inv *Inventory) Validate() error {
	var errs []error

	if err := validate.Struct(inv); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	d := inv.Defaults
	if d.Timeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("defaults.timeout must be non-negative, got %s", d.Timeout))
	}
	if d.RunTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("defaults.run_timeout must be non-negative, got %s", d.RunTimeout))
	}
	if d.Severity != "" {
		if _, err := report.ParseSeverity(d.Severity); err != nil {
			errs = append(errs, fmt.Errorf("defaults.severity: %w", err))
		}
	}

	for name, g := range inv.Groups {
		if g.Timeout.Duration < 0 {
			errs = append(errs, fmt.Errorf("group %q has negative timeout: %s", name, g.Timeout))
		}
	}

	seen := make(map[string]int, len(inv.Hosts))
	for i, h := range inv.Hosts {
		if h.Name == "" {
			continue
		}
		if prev, dup := seen[h.Name]; dup {
			errs = append(errs, fmt.Errorf("hosts[%d]: duplicate host %q (first at hosts[%d])", i, h.Name, prev))
		} else {
			seen[h.Name] = i
		}
		if h.Timeout.Duration < 0 {
			errs = append(errs, fmt.Errorf("host %q has negative timeout: %s", h.Name, h.Timeout))
		}
		for _, g := range h.Groups {
			if _, ok := inv.Groups[g]; !ok {
				errs = append(errs, fmt.Errorf("host %q references unknown group %q", h.Name, g))
			}
		}
	}

	return errors.Join(errs...)
}

func fieldError(fe validator.FieldError) error {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", ns)
	case "outputid":
		return fmt.Errorf("%s %q must match %s and not be . or ..", ns, fe.Value(), outputIDRe)
	case "oneof":
		return fmt.Errorf("%s %q must be one of: %s", ns, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte", "lte":
		return fmt.Errorf("%s %v out of range (%s %s)", ns, fe.Value(), fe.Tag(), fe.Param())
	default:
		return fmt.Errorf("%s failed %s validation", ns, fe.Tag())
	}
}
