// Package errs maps service errors onto HTTP responses.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"

	apptracking "github.com/ahrav/jobtracker/internal/app/tracking"
	"github.com/ahrav/jobtracker/internal/domain/tracking"
)

// ErrCode classifies an API error.
type ErrCode string

const (
	InvalidArgument ErrCode = "invalid_argument"
	Unauthenticated ErrCode = "unauthenticated"
	NotFound        ErrCode = "not_found"
	Conflict        ErrCode = "conflict"
	Unavailable     ErrCode = "unavailable"
	Internal        ErrCode = "internal"
)

var httpStatus = map[ErrCode]int{
	InvalidArgument: http.StatusBadRequest,
	Unauthenticated: http.StatusUnauthorized,
	NotFound:        http.StatusNotFound,
	Conflict:        http.StatusConflict,
	Unavailable:     http.StatusServiceUnavailable,
	Internal:        http.StatusInternalServerError,
}

// Error is the JSON body of every failed request.
type Error struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

// New wraps err with a code.
func New(code ErrCode, err error) *Error {
	return &Error{Code: code, Message: err.Error()}
}

// Newf builds an Error from a format string.
func Newf(code ErrCode, format string, v ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, v...)}
}

func (e *Error) Error() string { return e.Message }

// HTTPStatus returns the status code for the error's code.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// FromService classifies an error returned by the job service. Internal
// errors get a generic message so store details do not leak.
func FromService(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, tracking.ErrValidation):
		return New(InvalidArgument, err)
	case errors.Is(err, tracking.ErrAuth):
		return New(Unauthenticated, err)
	case errors.Is(err, tracking.ErrJobNotFound), errors.Is(err, tracking.ErrNoJob):
		return New(NotFound, err)
	case errors.Is(err, tracking.ErrJobInProgress):
		return New(Conflict, err)
	case errors.Is(err, apptracking.ErrTrackerClosed):
		return New(Unavailable, err)
	default:
		return &Error{Code: Internal, Message: "internal error"}
	}
}

// Write encodes err as the response.
func Write(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(err)
}

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return strings.ToLower(fld.Name)
		}
		return name
	})

	translator, _ = ut.New(en.New(), en.New()).GetTranslator("en")
	if err := entranslations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(fmt.Sprintf("registering validator translations: %v", err))
	}
}

// Check validates val against its `validate` struct tags. Field errors are
// translated to English and named after their json keys.
func Check(val any) error {
	if err := validate.Struct(val); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}

		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Translate(translator))
		}
		return errors.New(strings.Join(fields, "; "))
	}
	return nil
}
