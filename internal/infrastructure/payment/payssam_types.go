package payment

// PaysSam partner API paths
const (
	paysamTokenPath   = "/partner/v1/auth/token"
	paysamBillsPath   = "/partner/v1/bills"
	paysamBillPath    = "/partner/v1/bills/%s"
	paysamCancelPath  = "/partner/v1/bills/%s/cancel"
	paysamDestroyPath = "/partner/v1/bills/%s/destroy"
	paysamPointPath   = "/partner/v1/point"
)

// paysamResultOK is the result code of a successful call
const paysamResultOK = "0000"

// paysamEnvelope carries the result code every response starts with
type paysamEnvelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

type paysamTokenRequest struct {
	MemberID string `json:"member_id"`
	APIKey   string `json:"api_key"`
}

type paysamTokenResponse struct {
	paysamEnvelope
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

type paysamIssueRequest struct {
	MemberID    string `json:"member_id"`
	RefNo       string `json:"ref_no"`
	PayerName   string `json:"payer_nm"`
	PayerPhone  string `json:"phone"`
	ProductName string `json:"product_nm"`
	Price       int64  `json:"price"`
	ExpireDate  string `json:"expire_dt,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
	SendSMS     string `json:"send_yn"`
}

type paysamIssueResponse struct {
	paysamEnvelope
	BillID   string `json:"bill_id"`
	ShortURL string `json:"short_url"`
	SendYN   string `json:"send_yn"`
}

type paysamStatusResponse struct {
	paysamEnvelope
	BillID         string `json:"bill_id"`
	ApprovalState  string `json:"appr_state"`
	ApprovalDate   string `json:"appr_dt"`
	PayType        string `json:"appr_pay_type"`
	ApprovalNumber string `json:"appr_num"`
}

type paysamPointResponse struct {
	paysamEnvelope
	Point int64 `json:"point"`
}

// paysamNotification is the webhook body. The gateway posts either JSON or a
// form with the same field names.
type paysamNotification struct {
	BillID         string `json:"bill_id"`
	ApprovalState  string `json:"appr_state"`
	ApprovalDate   string `json:"appr_dt"`
	PayType        string `json:"appr_pay_type"`
	ApprovalNumber string `json:"appr_num"`
}
