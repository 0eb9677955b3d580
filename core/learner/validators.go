package learner

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/engage/core"
)

var (
	learnerIDTag   = "learnerid"
	learnerIDText  = "only letters, digits, dashes and underscores are allowed"
	learnerIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// InitValidators registers the learner validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(learnerIDTag, learnerIDValidation)
	core.RegisterCustomTranslation(validate, translator, learnerIDTag, learnerIDText)
}

// learnerIDValidation rejects IDs that would need escaping in URLs.
func learnerIDValidation(fl validator.FieldLevel) bool {
	return learnerIDRegex.MatchString(fl.Field().String()) && fl.Field().String() != SystemID
}
