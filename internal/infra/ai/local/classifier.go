package local

import (
	"context"
	"regexp"
	"strings"

	"github.com/ryotask/ecpatrol/internal/domain/catalog"
	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
)

// Classifier is an offline heuristic fallback used when no AI credential is
// configured. It inspects the product name for the usual infringement
// markers. It is deliberately conservative: the keyword tables can only raise
// suspicion, nama yang bersih selalu jatuh ke low.
type Classifier struct{}

func New() *Classifier { return &Classifier{} }

type detector struct {
	re     *regexp.Regexp
	risk   domain.RiskLevel
	crit   bool
	reason string
}

// Keyword tables. High + critical markers first; first match wins.
var detectors = []detector{
	// euphemisms hiding counterfeit goods
	{regexp.MustCompile(`(?i)(スーパーコピー|super\s*copy|1:1\s*(replica|copy)|mirror\s*(grade|quality))`), domain.RiskHigh, true, "counterfeit euphemism in product name"},
	{regexp.MustCompile(`(?i)(レプリカ|replica|knock[\s-]?off|fake\s+(bag|watch|brand))`), domain.RiskHigh, false, "replica wording in product name"},
	// unauthorized character merchandise
	{regexp.MustCompile(`(?i)(海賊版|無許諾|unlicensed|bootleg)`), domain.RiskHigh, true, "explicitly unlicensed merchandise"},
	{regexp.MustCompile(`(アニメ|キャラクター|同人).{0,12}(グッズ|フィギュア|Tシャツ|ケース)`), domain.RiskMedium, false, "character goods wording; licensing unclear"},
	// gray-zone "style of" phrasing
	{regexp.MustCompile(`(?i)([ぁ-んァ-ン一-龯A-Za-z0-9]+風|−?style|inspired\s+by|オマージュ|パロディ|parody|homage)`), domain.RiskMedium, false, "style-of/parody phrasing suggests gray zone"},
	// likeness use
	{regexp.MustCompile(`(生写真|ブロマイド|芸能人|アイドル).{0,10}(写真|フォト|photo)`), domain.RiskMedium, false, "possible unauthorized likeness photo"},
	// noname branding often paired with logo goods
	{regexp.MustCompile(`(?i)(ノーブランド|no[\s-]?brand).{0,16}(ロゴ|logo)`), domain.RiskMedium, false, "no-brand item with logo wording"},
}

// Classify implements the patrol.Classifier port without any outbound call.
func (c *Classifier) Classify(_ context.Context, item catalog.Item) (domain.Verdict, error) {
	name := strings.TrimSpace(item.Name)
	if name == "" {
		return domain.Verdict{RiskLevel: domain.RiskLow, Reason: "-"}, nil
	}
	for _, d := range detectors {
		if d.re.MatchString(name) {
			v := domain.Verdict{RiskLevel: d.risk, IsCritical: d.crit, Reason: d.reason}
			return v.Normalize(), nil
		}
	}
	return domain.Verdict{RiskLevel: domain.RiskLow, Reason: "no infringement markers in name (offline check)"}, nil
}
