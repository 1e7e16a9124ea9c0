// Package schema defines the fixed category taxonomy for sensitive
// identifiers and the span type shared by every detection stage.
//
// Offsets are rune offsets into the canonical text, half-open [start, end).
package schema

// Mandatory/numeric categories, fixed-format identifiers found by pattern
// matching. The order below is the detection priority, highest first:
// the bank card pattern is the widest (13-19 digit run) and must lose to
// every more specific format.
const (
	LabelNationalID  = "身份证号"
	LabelCreditCode  = "统一社会信用代码"
	LabelMobilePhone = "手机号码"
	LabelLandline    = "固定电话"
	LabelPassport    = "护照号码"
	LabelEntryPermit = "港澳通行证"
	LabelPlateNumber = "车牌号码"
	LabelBankCard    = "银行卡号"
)

// Optional/semantic categories, free-form entities found by the semantic
// recognizer. No inherent priority among themselves.
const (
	LabelPersonName   = "姓名"
	LabelAddress      = "地址"
	LabelCompanyName  = "企业名称"
	LabelOrgName      = "机构名称"
	LabelEmailAddress = "电子邮箱"
)

// Detection methods recorded on spans.
const (
	MethodRegex      = "regex"
	MethodChunk      = "semantic_chunk"
	MethodGlobalScan = "semantic_global_scan"
)

// Mandatory lists the numeric categories in strict priority order.
var Mandatory = []string{
	LabelNationalID,
	LabelCreditCode,
	LabelMobilePhone,
	LabelLandline,
	LabelPassport,
	LabelEntryPermit,
	LabelPlateNumber,
	LabelBankCard,
}

// Optional lists the semantic categories.
var Optional = []string{
	LabelPersonName,
	LabelAddress,
	LabelCompanyName,
	LabelOrgName,
	LabelEmailAddress,
}

var priority = func() map[string]int {
	m := make(map[string]int, len(Mandatory))
	for i, label := range Mandatory {
		m[label] = i
	}
	return m
}()

// Span is a detected identifier: a half-open rune interval in the canonical
// text plus the resolved category label.
type Span struct {
	Label  string `json:"label"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Text   string `json:"text"`
	Method string `json:"method"`
}

// IsMandatory reports whether label is one of the fixed numeric categories.
func IsMandatory(label string) bool {
	_, ok := priority[label]
	return ok
}

// Priority returns the detection rank of a mandatory label (0 = highest).
// Non-mandatory labels rank below every mandatory one.
func Priority(label string) int {
	if p, ok := priority[label]; ok {
		return p
	}
	return len(Mandatory)
}

// All returns the full taxonomy, the default selection when a request names
// no categories.
func All() []string {
	out := make([]string, 0, len(Mandatory)+len(Optional))
	out = append(out, Mandatory...)
	out = append(out, Optional...)
	return out
}

// Partition splits a requested label list into its mandatory and semantic
// subsets, preserving request order. Labels outside the fixed taxonomy are
// treated as semantic tags and handed to the recognizer as-is.
func Partition(requested []string) (mandatory, semantic []string) {
	if len(requested) == 0 {
		requested = All()
	}
	for _, label := range requested {
		if IsMandatory(label) {
			mandatory = append(mandatory, label)
		} else {
			semantic = append(semantic, label)
		}
	}
	return mandatory, semantic
}
