// Package format 提供界面展示用的格式化函数
package format

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// USD 格式化为美元金额，带千分位，例如 -$1,234.50
func USD(d decimal.Decimal, decimals int32) string {
	neg := d.IsNegative()
	s := d.Abs().StringFixed(decimals)

	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	out := "$" + groupThousands(intPart) + frac
	if neg && !d.Round(decimals).IsZero() {
		return "-" + out
	}
	return out
}

// Number 整数加千分位，例如 -12,345
func Number(n int64) string {
	if n < 0 {
		return "-" + groupThousands(strconv.FormatInt(-n, 10))
	}
	return groupThousands(strconv.FormatInt(n, 10))
}

// SignedQty 持仓数量，正数带 +
func SignedQty(n int64) string {
	if n > 0 {
		return "+" + Number(n)
	}
	return Number(n)
}

// Change 涨跌额和涨跌幅，例如 +1.23 (+0.45%)
func Change(change, percent decimal.Decimal) string {
	sign := ""
	if !change.IsNegative() {
		sign = "+"
	}
	return sign + change.StringFixed(2) + " (" + sign + percent.StringFixed(2) + "%)"
}

// Timestamp 本地日期时间，零值返回 "-"
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// Clock 本地时间（时:分:秒）
func Clock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

// Truncate 按字符截断，超出部分用 … 表示
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
