package symbol

import (
	"strings"
)

type Format string

const (
	FormatInternal Format = "internal" // 600519.SH
	FormatPrefix   Format = "prefix"   // SH600519
	FormatBaostock Format = "baostock" // sh.600519
)

// 交易所后缀
const (
	ExchangeSH = "SH"
	ExchangeSZ = "SZ"
	ExchangeBJ = "BJ"
)

type Converter interface {
	ToExchange(internal string) string

	FromExchange(raw string) string

	Format() Format
}

// Symbol 是拆分后的标的代码。非 A 股代码（如 AAPL）Exchange 为空。
type Symbol struct {
	Code     string
	Exchange string
}

func (s Symbol) Internal() string {
	if s.Code == "" {
		return ""
	}
	if s.Exchange == "" {
		return s.Code
	}
	return s.Code + "." + s.Exchange
}

func (s Symbol) Prefix() string {
	if s.Code == "" {
		return ""
	}
	return s.Exchange + s.Code
}

func (s Symbol) Baostock() string {
	if s.Code == "" || s.Exchange == "" {
		return s.Code
	}
	return strings.ToLower(s.Exchange) + "." + s.Code
}

// Parse 识别 600519.SH / SH600519 / sh.600519 / 600519 等写法；
// 纯 6 位数字按代码段推断交易所。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}

	if code, ex, ok := strings.Cut(s, "."); ok {
		switch {
		case isExchange(ex) && isDigits(code):
			return Symbol{Code: code, Exchange: ex}
		case isExchange(code) && isDigits(ex):
			return Symbol{Code: ex, Exchange: code}
		}
		return Symbol{Code: s}
	}

	if len(s) == 8 && isExchange(s[:2]) && isDigits(s[2:]) {
		return Symbol{Code: s[2:], Exchange: s[:2]}
	}
	if len(s) == 6 && isDigits(s) {
		return Symbol{Code: s, Exchange: inferExchange(s)}
	}
	return Symbol{Code: s}
}

func Normalize(s string) string {
	return Parse(s).Internal()
}

// NormalizeList 规范化并去重，保持首次出现的顺序。
func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// IsAShare 判断是否为带交易所后缀的 A 股代码。
func IsAShare(s string) bool {
	sym := Parse(s)
	return sym.Exchange != ""
}

type prefixConverter struct{}

func (prefixConverter) ToExchange(internal string) string { return Parse(internal).Prefix() }
func (prefixConverter) FromExchange(raw string) string    { return Normalize(raw) }
func (prefixConverter) Format() Format                    { return FormatPrefix }

type baostockConverter struct{}

func (baostockConverter) ToExchange(internal string) string { return Parse(internal).Baostock() }
func (baostockConverter) FromExchange(raw string) string    { return Normalize(raw) }
func (baostockConverter) Format() Format                    { return FormatBaostock }

// ConverterFor 返回对应格式的转换器，未知格式返回 nil。
func ConverterFor(f Format) Converter {
	switch f {
	case FormatPrefix:
		return prefixConverter{}
	case FormatBaostock:
		return baostockConverter{}
	default:
		return nil
	}
}

func inferExchange(code string) string {
	switch code[0] {
	case '6', '9', '5':
		return ExchangeSH
	case '0', '2', '3', '1':
		return ExchangeSZ
	case '4', '8':
		return ExchangeBJ
	default:
		return ""
	}
}

func isExchange(s string) bool {
	return s == ExchangeSH || s == ExchangeSZ || s == ExchangeBJ
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
