package persona

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonical user roles.
const (
	SuHuynh  = "Sư huynh"
	MuoiMuoi = "Muội muội"
	DeDe     = "Đệ đệ"
	TyTy     = "Tỷ tỷ"

	// DefaultUserRole 是无法识别输入时的回退角色。
	DefaultUserRole = SuHuynh
	// DefaultAgentRole 是未映射角色对应的 agent 角色。
	DefaultAgentRole = MuoiMuoi
)

// Role is one row of the role table: the role the user plays, the persona the
// agent answers with, and whether the sulking mechanic applies.
type Role struct {
	UserRole      string `json:"user_role"`
	Slug          string `json:"slug"`
	AgentRole     string `json:"agent_role"`
	Personality   string `json:"personality"`
	MoodEnabled   bool   `json:"sulking_enabled"`
	AddressUser   string `json:"address_user"`
	AddressSelf   string `json:"address_self"`
	SampleOpening string `json:"sample_opening"`
}

var roleTable = [...]Role{
	{
		UserRole:      SuHuynh,
		Slug:          "su_huynh",
		AgentRole:     MuoiMuoi,
		Personality:   "Tsundere/Playful Junior Sister",
		MoodEnabled:   true,
		AddressUser:   "师兄",
		AddressSelf:   "我 / 师妹",
		SampleOpening: "师兄~！人家等你好久了！嘿嘿，想我了吗？",
	},
	{
		UserRole:      MuoiMuoi,
		Slug:          "muoi_muoi",
		AgentRole:     TyTy,
		Personality:   "Caring but Strict Older Sister",
		AddressUser:   "妹妹",
		AddressSelf:   "姐姐",
		SampleOpening: "妹妹真乖！姐姐教你。来，跟我读一遍。",
	},
	{
		UserRole:      DeDe,
		Slug:          "de_de",
		AgentRole:     "Tỷ tỷ ác ma",
		Personality:   "Demon Sister (Very Strict)",
		AddressUser:   "弟弟",
		AddressSelf:   "姐姐",
		SampleOpening: "废物弟弟！连这个都不会？姐姐很失望！",
	},
	{
		UserRole:      TyTy,
		Slug:          "ty_ty",
		AgentRole:     MuoiMuoi,
		Personality:   "Sweet and Clingy Little Sister",
		AddressUser:   "姐姐",
		AddressSelf:   "我 / 妹妹",
		SampleOpening: "姐姐~！我好想你呢！姐姐最好了！抱抱嘛~",
	},
}

// legacyNames maps the older Chinese role names onto canonical roles.
var legacyNames = map[string]string{
	"师兄":  SuHuynh,
	"师姐":  TyTy,
	"师弟":  DeDe,
	"师妹":  MuoiMuoi,
	"小师妹": MuoiMuoi,
}

var (
	byUserRole = make(map[string]Role, len(roleTable))
	bySlug     = make(map[string]string, len(roleTable))
)

func init() {
	for _, r := range roleTable {
		byUserRole[r.UserRole] = r
		bySlug[r.Slug] = r.UserRole
	}
}

// Roles returns the role table in display order.
func Roles() []Role {
	return append([]Role(nil), roleTable[:]...)
}

// Lookup returns the row for an exact canonical user role.
func Lookup(userRole string) (Role, bool) {
	r, ok := byUserRole[userRole]
	return r, ok
}

// RoleInfo returns the row for userRole, or the default junior-sister row when
// the role is not mapped.
func RoleInfo(userRole string) Role {
	if r, ok := byUserRole[userRole]; ok {
		return r
	}
	r := byUserRole[DefaultUserRole]
	r.UserRole = userRole
	return r
}

// ResolveAgentRole 返回与用户角色配对的 agent 角色。
func ResolveAgentRole(userRole string) string {
	if r, ok := byUserRole[userRole]; ok {
		return r.AgentRole
	}
	return DefaultAgentRole
}

// MoodEnabled reports whether the sulking mechanic applies to userRole.
// Unmapped roles never sulk.
func MoodEnabled(userRole string) bool {
	r, ok := byUserRole[userRole]
	return ok && r.MoodEnabled
}

// ValidateRole normalizes any candidate to a canonical user role. It never
// fails and never returns the raw input unless it is already canonical.
func ValidateRole(candidate string) string {
	role, _ := Normalize(candidate)
	return role
}

// Normalize is ValidateRole that also reports whether the default was used.
func Normalize(candidate string) (role string, fellBack bool) {
	if _, ok := byUserRole[candidate]; ok {
		return candidate, false
	}

	cleaned := norm.NFC.String(strings.TrimSpace(candidate))
	if _, ok := byUserRole[cleaned]; ok {
		return cleaned, false
	}
	if mapped, ok := legacyNames[cleaned]; ok {
		return mapped, false
	}

	lowered := strings.ToLower(cleaned)
	if mapped, ok := bySlug[strings.ReplaceAll(lowered, "-", "_")]; ok {
		return mapped, false
	}
	for _, r := range roleTable {
		if strings.EqualFold(r.UserRole, cleaned) {
			return r.UserRole, false
		}
	}

	return DefaultUserRole, true
}
