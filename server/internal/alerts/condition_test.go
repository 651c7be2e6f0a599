package alerts

import "testing"

func TestParseCondition(t *testing.T) {
	cases := []struct {
		in        string
		table     string
		op        string
		threshold float64
	}{
		{"events_per_min > 500", "", ">", 500},
		{"purchases_per_min < 1", "purchases", "<", 1},
		{"table:orders >= 100", "orders", ">=", 100},
		{"carts_per_min == 0", "carts", "==", 0},
	}
	for _, tc := range cases {
		c, err := parseCondition(tc.in)
		if err != nil {
			t.Errorf("parseCondition(%q): %v", tc.in, err)
			continue
		}
		if c.table != tc.table || c.op != tc.op || c.threshold != tc.threshold {
			t.Errorf("parseCondition(%q): got %+v", tc.in, c)
		}
	}
}

func TestParseCondition_Errors(t *testing.T) {
	for _, in := range []string{
		"",
		"events_per_min >",
		"latency > 5",
		"events_per_min ~ 5",
		"events_per_min > lots",
		"table: > 5",
		"_per_min > 5",
	} {
		if _, err := parseCondition(in); err == nil {
			t.Errorf("parseCondition(%q): expected error", in)
		}
	}
}

func TestConditionEval(t *testing.T) {
	r := rates{total: 10, byTable: map[string]int{"orders": 3}}

	c, _ := parseCondition("events_per_min > 5")
	if fires, v := c.eval(r); !fires || v != 10 {
		t.Errorf("events_per_min > 5: got (%v, %v), want (true, 10)", fires, v)
	}

	c, _ = parseCondition("table:orders > 5")
	if fires, v := c.eval(r); fires || v != 3 {
		t.Errorf("table:orders > 5: got (%v, %v), want (false, 3)", fires, v)
	}

	c, _ = parseCondition("purchases_per_min < 1")
	if fires, _ := c.eval(r); !fires {
		t.Error("purchases_per_min < 1 with no purchases: want fire")
	}
}
