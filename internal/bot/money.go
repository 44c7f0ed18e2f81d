package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errBadAmount = errors.New("金额格式不正确")

// FormatCents 分 -> 带两位小数的金额文本
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseCents 金额文本 -> 分，接受 "10"、"9.99"、"-5.5" 这类输入
// 不经过浮点数，避免精度偏差
func ParseCents(text string) (int64, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "¥")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, errBadAmount
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		whole, frac = s[:idx], s[idx+1:]
	}
	if whole == "" || len(frac) > 2 {
		return 0, errBadAmount
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, errBadAmount
	}

	f := int64(0)
	if frac != "" {
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, errBadAmount
		}
		if len(frac) == 1 {
			f *= 10
		}
	}

	cents := w*100 + f
	if negative {
		cents = -cents
	}
	return cents, nil
}
