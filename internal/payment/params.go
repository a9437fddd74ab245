package payment

import (
	"errors"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Solana clusters a payment may be verified against.
var (
	ClusterDevnet      = rpc.DevNet.Name
	ClusterMainnetBeta = rpc.MainNetBeta.Name
)

// AllowedClusters lists the cluster names accepted by Validate.
var AllowedClusters = []string{ClusterDevnet, ClusterMainnetBeta}

// USDCMint is the SPL token requested on mainnet.
const USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// SecurityField is the form field carrying the anti-forgery token.
const SecurityField = "security"

// TransactionParameters describe one Solana Pay transfer request. The same set is
// sent to the verification service and posted back to the confirmation endpoint.
type TransactionParameters struct {
	Reference string `json:"reference" validate:"required"`
	Recipient string `json:"recipient" validate:"required"`
	SPLToken  string `json:"splToken"`
	Amount    string `json:"amount" validate:"required,amount"`
	Label     string `json:"label"`
	Message   string `json:"message"`
	Memo      string `json:"memo"`
	Cluster   string `json:"cluster,omitempty" validate:"omitempty,cluster"`
}

// FieldErrors maps a parameter name to a human readable failure.
type FieldErrors map[string]string

// Error implements error so validation failures can travel through error returns.
func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for _, msg := range f {
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func paramsValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("cluster", func(fl validator.FieldLevel) bool {
			return IsAllowedCluster(fl.Field().String())
		})
		_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
			_, err := ParseAmount(fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// IsAllowedCluster reports whether name is one of AllowedClusters.
func IsAllowedCluster(name string) bool {
	for _, c := range AllowedClusters {
		if name == c {
			return true
		}
	}
	return false
}

// ParseAmount parses a positive decimal amount.
func ParseAmount(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.New("amount must be positive")
	}
	return d, nil
}

// Validate checks the parameters and returns every failure keyed by field name.
// A nil result means the parameters are acceptable.
func Validate(p TransactionParameters) FieldErrors {
	err := paramsValidator().Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"request": err.Error()}
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = field + " missing"
		case "cluster":
			out[field] = "Invalid cluster"
		case "amount":
			out[field] = "Invalid amount"
		default:
			out[field] = "Invalid " + field
		}
	}
	return out
}

// EncodeQuery renders the parameters for the verification service GET.
// Every key is present even when its value is empty.
func EncodeQuery(p TransactionParameters) url.Values {
	q := url.Values{}
	q.Set("reference", p.Reference)
	q.Set("recipient", p.Recipient)
	q.Set("splToken", p.SPLToken)
	q.Set("amount", p.Amount)
	q.Set("label", p.Label)
	q.Set("message", p.Message)
	q.Set("memo", p.Memo)
	q.Set("cluster", p.Cluster)
	return q
}

// EncodeForm renders the store notification body. splToken is omitted when empty.
func EncodeForm(p TransactionParameters, security string) url.Values {
	form := EncodeQuery(p)
	if p.SPLToken == "" {
		form.Del("splToken")
	}
	form.Set(SecurityField, security)
	return form
}

// DecodeForm extracts parameters and the anti-forgery token from a submitted form.
// Values are trimmed.
func DecodeForm(form url.Values) (TransactionParameters, string) {
	get := func(key string) string { return strings.TrimSpace(form.Get(key)) }
	return TransactionParameters{
		Reference: get("reference"),
		Recipient: get("recipient"),
		SPLToken:  get("splToken"),
		Amount:    get("amount"),
		Label:     get("label"),
		Message:   get("message"),
		Memo:      get("memo"),
		Cluster:   get("cluster"),
	}, get(SecurityField)
}
