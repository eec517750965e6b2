package apperr

import "github.com/go-faster/errors"

// Locale selects the message catalog used by Localize.
type Locale string

// Supported locales.
const (
	English Locale = "en"
	Spanish Locale = "es"
)

// Message keys shared by the catalogs.
const (
	KeyErrorTitle         = "error.title"
	KeyLoginErrorTitle    = "login.error.title"
	KeyRegisterErrorTitle = "register.error.title"
	KeyGeneric            = "error.generic"
	KeyRequiredFields     = "validation.required"
	KeyPasswordMismatch   = "validation.password_mismatch"
	KeyWriteFailed        = "persistence.write_failed"
	KeyReadFailed         = "persistence.read_failed"
	KeyUploadFailed       = "upload.transfer_failed"
	KeyLoginOKTitle       = "login.ok.title"
	KeyLoginOK            = "login.ok"
	KeyRegisterOKTitle    = "register.ok.title"
	KeyRegisterOK         = "register.ok"
	KeyProfileOKTitle     = "profile.ok.title"
	KeyProfileOK          = "profile.ok"
	KeyDeleteTitle        = "delete.title"
	KeyDeleteConfirm      = "delete.confirm"
	KeyMenuTitle          = "menu.title"
	KeyMenuEditProfile    = "menu.edit_profile"
	KeyMenuLogout         = "menu.logout"
	KeyCancel             = "button.cancel"
	KeyDelete             = "button.delete"
	KeyOK                 = "button.ok"
	KeyGuestName          = "profile.guest"
)

var catalogs = map[Locale]map[string]string{
	English: {
		KeyErrorTitle:                    "Error",
		KeyLoginErrorTitle:               "Sign-in error",
		KeyRegisterErrorTitle:            "Registration error",
		KeyGeneric:                       "Something went wrong. Please try again.",
		KeyRequiredFields:                "All fields are required.",
		KeyPasswordMismatch:              "Passwords do not match.",
		KeyWriteFailed:                   "Could not save your changes. Please try again.",
		KeyReadFailed:                    "Could not load your products. Please try again.",
		KeyUploadFailed:                  "Could not upload the image. Please try again.",
		KeyLoginOKTitle:                  "Signed in",
		KeyLoginOK:                       "You have signed in successfully.",
		KeyRegisterOKTitle:               "Registration complete",
		KeyRegisterOK:                    "Your account has been created. You can sign in now.",
		KeyProfileOKTitle:                "Success",
		KeyProfileOK:                     "Profile updated successfully.",
		KeyDeleteTitle:                   "Confirm deletion",
		KeyDeleteConfirm:                 "Are you sure you want to delete this product?",
		KeyMenuTitle:                     "Options",
		KeyMenuEditProfile:               "Edit profile",
		KeyMenuLogout:                    "Sign out",
		KeyCancel:                        "Cancel",
		KeyDelete:                        "Delete",
		KeyOK:                            "OK",
		KeyGuestName:                     "Guest",
		authKey(AuthInvalidEmail):        "The email address is not valid.",
		authKey(AuthUserDisabled):        "This account has been disabled.",
		authKey(AuthUserNotFound):        "No account was found for this email address.",
		authKey(AuthWrongPassword):       "The password is incorrect.",
		authKey(AuthEmailInUse):          "This email address is already in use.",
		authKey(AuthOperationNotAllowed): "Email and password sign-up is not enabled.",
		authKey(AuthWeakPassword):        "The password is too weak.",
		authKey(AuthOther):               "Something went wrong. Please try again.",
	},
	Spanish: {
		KeyErrorTitle:                    "Error",
		KeyLoginErrorTitle:               "Error de inicio de sesión",
		KeyRegisterErrorTitle:            "Error de registro",
		KeyGeneric:                       "Ocurrió un error. Intenta de nuevo.",
		KeyRequiredFields:                "Todos los campos son obligatorios.",
		KeyPasswordMismatch:              "Las contraseñas no coinciden.",
		KeyWriteFailed:                   "No se pudieron guardar los cambios. Intenta de nuevo.",
		KeyReadFailed:                    "No se pudieron cargar los productos. Intenta de nuevo.",
		KeyUploadFailed:                  "No se pudo subir la imagen. Intenta de nuevo.",
		KeyLoginOKTitle:                  "Inicio de sesión exitoso",
		KeyLoginOK:                       "Has iniciado sesión correctamente.",
		KeyRegisterOKTitle:               "Registro exitoso",
		KeyRegisterOK:                    "Tu cuenta ha sido creada. Ahora puedes iniciar sesión.",
		KeyProfileOKTitle:                "Éxito",
		KeyProfileOK:                     "Perfil actualizado correctamente.",
		KeyDeleteTitle:                   "Confirmar eliminación",
		KeyDeleteConfirm:                 "¿Estás seguro de que quieres eliminar este producto?",
		KeyMenuTitle:                     "Opciones",
		KeyMenuEditProfile:               "Editar Perfil",
		KeyMenuLogout:                    "Cerrar Sesión",
		KeyCancel:                        "Cancelar",
		KeyDelete:                        "Eliminar",
		KeyOK:                            "OK",
		KeyGuestName:                     "Invitado",
		authKey(AuthInvalidEmail):        "El correo electrónico no es válido.",
		authKey(AuthUserDisabled):        "Esta cuenta ha sido deshabilitada.",
		authKey(AuthUserNotFound):        "No se encontró una cuenta con este correo electrónico.",
		authKey(AuthWrongPassword):       "La contraseña es incorrecta.",
		authKey(AuthEmailInUse):          "El correo ya está en uso.",
		authKey(AuthOperationNotAllowed): "El registro con correo y contraseña no está habilitado.",
		authKey(AuthWeakPassword):        "La contraseña es muy débil.",
		authKey(AuthOther):               "Ocurrió un error. Intenta de nuevo.",
	},
}

func authKey(c AuthCode) string { return "auth." + string(c) }

// ParseLocale returns the Locale for s, falling back to English.
func ParseLocale(s string) Locale {
	if _, ok := catalogs[Locale(s)]; ok {
		return Locale(s)
	}
	return English
}

// Text returns the catalog entry for key. Unknown locales use English and
// unknown keys return the key itself.
func (l Locale) Text(key string) string {
	if m, ok := catalogs[l]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	if s, ok := catalogs[English][key]; ok {
		return s
	}
	return key
}

// Localize converts err into a message suitable for an alert dialog.
func (l Locale) Localize(err error) string {
	var (
		ae *AuthError
		ve *ValidationError
		ue *UploadError
		pe *PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		if ve.Code == PasswordMismatch {
			return l.Text(KeyPasswordMismatch)
		}
		return l.Text(KeyRequiredFields)
	case errors.As(err, &ae):
		return l.Text(authKey(ae.Code))
	case errors.As(err, &ue):
		return l.Text(KeyUploadFailed)
	case errors.As(err, &pe):
		if pe.Code == ReadFailed {
			return l.Text(KeyReadFailed)
		}
		return l.Text(KeyWriteFailed)
	default:
		return l.Text(KeyGeneric)
	}
}
