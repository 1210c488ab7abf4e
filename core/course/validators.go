package course

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/kbhujbal/edunexus/core"
)

var (
	contentTypeTag  = "contenttype"
	contentTypeText = "type must be one of VIDEO, DOCUMENT, ASSIGNMENT, QUIZ or REFERENCE_BOOK"
)

// InitValidators registers the course validators & translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(contentTypeTag, contentTypeValidation)
	core.RegisterCustomTranslation(validate, translator, contentTypeTag, contentTypeText)
}

func contentTypeValidation(fl validator.FieldLevel) bool {
	ct := ContentType(fl.Field().String())
	for _, t := range ContentTypes {
		if ct == t {
			return true
		}
	}
	return false
}
