package vnpay

// Gateway response codes. The IPN endpoint must answer with one of these;
// the gateway decides whether to retry the callback based on the code.
const (
	RspCodeSuccess          = "00"
	RspCodeOrderNotFound    = "01"
	RspCodeOrderConfirmed   = "02"
	RspCodeInvalidAmount    = "04"
	RspCodeDuplicateRequest = "94"
	RspCodeInvalidSignature = "97"
	RspCodeUnknownError     = "99"
)

// Transaction status codes reported by the gateway.
const (
	TxnStatusSuccess = "00"
)

// Signed field names of the redirect protocol.
const (
	FieldVersion        = "vnp_Version"
	FieldCommand        = "vnp_Command"
	FieldTmnCode        = "vnp_TmnCode"
	FieldAmount         = "vnp_Amount"
	FieldCurrCode       = "vnp_CurrCode"
	FieldTxnRef         = "vnp_TxnRef"
	FieldOrderInfo      = "vnp_OrderInfo"
	FieldOrderType      = "vnp_OrderType"
	FieldReturnURL      = "vnp_ReturnUrl"
	FieldLocale         = "vnp_Locale"
	FieldIPAddr         = "vnp_IpAddr"
	FieldCreateDate     = "vnp_CreateDate"
	FieldExpireDate     = "vnp_ExpireDate"
	FieldSecureHash     = "vnp_SecureHash"
	FieldSecureHashType = "vnp_SecureHashType"
	FieldPayDate        = "vnp_PayDate"
	FieldResponseCode   = "vnp_ResponseCode"
	FieldTxnStatus      = "vnp_TransactionStatus"
	FieldTransactionNo  = "vnp_TransactionNo"
)

const (
	commandPay     = "pay"
	commandQuery   = "querydr"
	commandCharge  = "token_pay"
	dateLayout     = "20060102150405"
	defaultVersion = "2.1.0"
)
