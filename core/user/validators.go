package user

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/kbhujbal/edunexus/core"
)

var (
	selfServiceRoleTag  = "selfservicerole"
	selfServiceRoleText = "role must be one of STUDENT or INSTRUCTOR"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"
)

// InitValidators registers the user validators & translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(selfServiceRoleTag, selfServiceRoleValidation)
	core.RegisterCustomTranslation(validate, translator, selfServiceRoleTag, selfServiceRoleText)

	validate.RegisterStructValidation(userStructValidation, NewUser{})
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
}

// Custom Validators

func selfServiceRoleValidation(fl validator.FieldLevel) bool {
	role := Role(fl.Field().String())
	for _, r := range SelfServiceRoles {
		if role == r {
			return true
		}
	}
	return false
}

// userStructValidation does struct level validation on NewUser.
func userStructValidation(sl validator.StructLevel) {
	if usr, ok := sl.Current().Interface().(NewUser); ok && usr.Password != "" {
		validatePasswordSimilarity(usr.Password, sl, usr.FirstName, usr.LastName, usr.Email)
	}
}

// validatePasswordSimilarity rejects passwords too close to the user's own attributes.
func validatePasswordSimilarity(pwd string, sl validator.StructLevel, attrs ...string) {
	if passwordTooSimilar(pwd, attrs...) {
		sl.ReportError(pwd, "password", "Password", pwdAttrSimTag, "")
	}
}

func passwordTooSimilar(pwd string, attrs ...string) bool {
	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(pass, ""), strings.Split(usrAttr, "")).QuickRatio()
	}
	lpwd := strings.ToLower(pwd)
	for _, attr := range attrs {
		if getRatio(lpwd, strings.ToLower(attr)) >= pwdMaxSim {
			return true
		}
	}
	return false
}
