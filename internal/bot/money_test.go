package bot

import "testing"

func TestFormatCents(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{999, "9.99"},
		{100000, "1000.00"},
		{-550, "-5.50"},
		{-5, "-0.05"},
	}
	for _, c := range cases {
		if got := FormatCents(c.cents); got != c.want {
			t.Errorf("FormatCents(%d) = %q，期望 %q", c.cents, got, c.want)
		}
	}
}

func TestParseCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"10", 1000},
		{"9.99", 999},
		{"0.5", 50},
		{"-5.5", -550},
		{"+3", 300},
		{" 12.00 ", 1200},
		{"¥9.99", 999},
		{"1,000", 100000},
	}
	for _, c := range cases {
		got, err := ParseCents(c.in)
		if err != nil {
			t.Errorf("ParseCents(%q) 报错: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseCents(%q) = %d，期望 %d", c.in, got, c.want)
		}
	}
}

func TestParseCentsRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1.234", ".5", "1e3", "-", "12 34"} {
		if _, err := ParseCents(in); err == nil {
			t.Errorf("ParseCents(%q) 应当报错", in)
		}
	}
}

func TestParseCentsRoundTripsFormat(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 999, 123456, -550} {
		got, err := ParseCents(FormatCents(cents))
		if err != nil {
			t.Fatalf("回环解析 %d 报错: %v", cents, err)
		}
		if got != cents {
			t.Fatalf("回环解析 %d 得到 %d", cents, got)
		}
	}
}
