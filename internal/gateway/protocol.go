package gateway

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/catalog-sync/internal/binding"
	"github.com/xenking/catalog-sync/internal/domain/blob"
	"github.com/xenking/catalog-sync/internal/domain/product"
)

// Client message types.
const (
	msgLogin         = "login"
	msgRegister      = "register"
	msgLogout        = "logout"
	msgAddProduct    = "add_product"
	msgSaveProduct   = "save_product"
	msgDeleteProduct = "delete_product"
	msgUpdateProfile = "update_profile"
	msgSearch        = "search"
	msgMenu          = "menu"
	msgResume        = "resume"
	msgDialogResult  = "dialog_result"
)

// Server message types.
const (
	msgProfile        = "profile"
	msgCatalog        = "catalog"
	msgNavigate       = "navigate"
	msgDialog         = "dialog"
	msgHaptic         = "haptic"
	msgSaveResult     = "save_result"
	msgUploadProgress = "upload_progress"
)

// Dialog kinds.
const (
	dialogAlert       = "alert"
	dialogConfirm     = "confirm"
	dialogActionSheet = "action_sheet"
)

// clientMessage is the union of every client message. Fields not used by
// Type are left empty.
type clientMessage struct {
	Type string

	Email           string
	Password        string
	DisplayName     string
	NewPassword     string
	ConfirmPassword string

	ProductID   string
	Name        string
	Description string
	Price       *decimal.Decimal
	ImageURL    string
	Image       *blob.Upload

	Query string

	DialogID string
	Button   string
}

func (m clientMessage) draft() product.Draft {
	return product.Draft{
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		ImageURL:    m.ImageURL,
	}
}

func decodeClientMessage(data []byte) (clientMessage, error) {
	var (
		m     clientMessage
		image []byte
		name  string
		ctype string
	)
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "type":
			m.Type, err = d.Str()
		case "email":
			m.Email, err = d.Str()
		case "password":
			m.Password, err = d.Str()
		case "display_name":
			m.DisplayName, err = d.Str()
		case "new_password":
			m.NewPassword, err = d.Str()
		case "confirm_password":
			m.ConfirmPassword, err = d.Str()
		case "product_id":
			m.ProductID, err = d.Str()
		case "name":
			m.Name, err = d.Str()
		case "description":
			m.Description, err = d.Str()
		case "price":
			m.Price, err = decodePrice(d)
		case "image_url":
			m.ImageURL, err = d.Str()
		case "image":
			image, err = d.Base64()
		case "image_name":
			name, err = d.Str()
		case "content_type":
			ctype, err = d.Str()
		case "query":
			m.Query, err = d.Str()
		case "dialog_id":
			m.DialogID, err = d.Str()
		case "button":
			m.Button, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	}); err != nil {
		return m, errors.Wrap(err, "decode message")
	}
	if m.Type == "" {
		return m, errors.New("message type is missing")
	}
	if len(image) > 0 {
		m.Image = &blob.Upload{Name: name, ContentType: ctype, Data: image}
	}
	return m, nil
}

func decodePrice(d *jx.Decoder) (*decimal.Decimal, error) {
	var s string
	switch tt := d.Next(); tt {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return nil, err
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		s = n.String()
	default:
		return nil, errors.Errorf("price is %s", tt)
	}
	if s == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func encodeProfile(v binding.ProfileView) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.Field("type", func(e *jx.Encoder) { e.Str(msgProfile) })
	e.Field("signed_in", func(e *jx.Encoder) { e.Bool(v.SignedIn) })
	e.Field("display_name", func(e *jx.Encoder) { e.Str(v.DisplayName) })
	e.Field("photo_url", func(e *jx.Encoder) { e.Str(v.PhotoURL) })
	e.ObjEnd()
	return e.Bytes()
}

func encodeCatalog(v binding.CatalogView) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.Field("type", func(e *jx.Encoder) { e.Str(msgCatalog) })
	e.Field("seq", func(e *jx.Encoder) { e.UInt64(v.Seq) })
	e.Field("identity_id", func(e *jx.Encoder) { e.Str(v.IdentityID) })
	e.Field("query", func(e *jx.Encoder) { e.Str(v.Query) })
	e.Field("total", func(e *jx.Encoder) { e.Int(v.Total) })
	if v.Error != "" {
		e.Field("error", func(e *jx.Encoder) { e.Str(v.Error) })
	}
	e.Field("products", func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range v.Products {
			encodeProduct(e, p)
		}
		e.ArrEnd()
	})
	e.ObjEnd()
	return e.Bytes()
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
	e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
	e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
	e.Field("price", func(e *jx.Encoder) {
		if p.Price == nil {
			e.Null()
			return
		}
		e.Raw([]byte(p.Price.String()))
	})
	e.Field("image_url", func(e *jx.Encoder) { e.Str(p.ImageURL) })
	e.Field("timestamp", func(e *jx.Encoder) { e.Str(p.Timestamp) })
	e.ObjEnd()
}

func encodeNavigate(r binding.Route) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.Field("type", func(e *jx.Encoder) { e.Str(msgNavigate) })
	e.Field("route", func(e *jx.Encoder) { e.Str(string(r)) })
	e.ObjEnd()
	return e.Bytes()
}

func encodeDialog(id, kind string, d binding.Dialog) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.Field("type", func(e *jx.Encoder) { e.Str(msgDialog) })
	if id != "" {
		e.Field("dialog_id", func(e *jx.Encoder) { e.Str(id) })
	}
	e.Field("kind", func(e *jx.Encoder) { e.Str(kind) })
	e.Field("header", func(e *jx.Encoder) { e.Str(d.Header) })
	if d.Message != "" {
		e.Field("message", func(e *jx.Encoder) { e.Str(d.Message) })
	}
	e.Field("buttons", func(e *jx.Encoder) {
		e.ArrStart()
		for _, b := range d.Buttons {
			e.ObjStart()
			e.Field("id", func(e *jx.Encoder) { e.Str(b.ID) })
			e.Field("text", func(e *jx.Encoder) { e.Str(b.Text) })
			if b.Role != binding.RoleDefault {
				e.Field("role", func(e *jx.Encoder) { e.Str(string(b.Role)) })
			}
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	e.ObjEnd()
	return e.Bytes()
}

func encodeHaptic(f binding.Feedback) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.Field("type", func(e *jx.Encoder) { e.Str(msgHaptic) })
	e.Field("feedback", func(e *jx.Encoder) { e.Str(string(f)) })
	e.ObjEnd()
	return e.Bytes()
}

func encodeSaveResult(productID string, ok bool) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.Field("type", func(e *jx.Encoder) { e.Str(msgSaveResult) })
	e.Field("ok", func(e *jx.Encoder) { e.Bool(ok) })
	if productID != "" {
		e.Field("product_id", func(e *jx.Encoder) { e.Str(productID) })
	}
	e.ObjEnd()
	return e.Bytes()
}

func encodeUploadProgress(p blob.Progress) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.Field("type", func(e *jx.Encoder) { e.Str(msgUploadProgress) })
	e.Field("sent", func(e *jx.Encoder) { e.Int64(p.Sent) })
	e.Field("total", func(e *jx.Encoder) { e.Int64(p.Total) })
	e.ObjEnd()
	return e.Bytes()
}
