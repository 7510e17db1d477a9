package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		want      string
		wantVault Vault
	}{
		{
			name:      "money by symbol and by word",
			in:        "I owe $300 and also 5,000 rupees.",
			want:      "I owe [MONEY_1] and also [MONEY_2].",
			wantVault: Vault{"[MONEY_1]": "$300", "[MONEY_2]": "5,000 rupees"},
		},
		{
			name:      "dates",
			in:        "Due on March 5th, 2025 or 2025-04-01.",
			want:      "Due on [DATE_1] or [DATE_2].",
			wantVault: Vault{"[DATE_1]": "March 5th, 2025", "[DATE_2]": "2025-04-01"},
		},
		{
			name:      "rates",
			in:        "The rate moved from 8.75% to 15 percent.",
			want:      "The rate moved from [RATE_1] to [RATE_2].",
			wantVault: Vault{"[RATE_1]": "8.75%", "[RATE_2]": "15 percent"},
		},
		{
			name:      "account numbers after amounts",
			in:        "Account 1234-5678 was charged ₹7,832.",
			want:      "Account [DETAIL_1] was charged [MONEY_1].",
			wantVault: Vault{"[DETAIL_1]": "1234-5678", "[MONEY_1]": "₹7,832"},
		},
		{
			name:      "nothing to redact",
			in:        "Thanks for calling, goodbye.",
			want:      "Thanks for calling, goodbye.",
			wantVault: Vault{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, vault := Redact(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantVault, vault)
		})
	}
}

func TestRestore(t *testing.T) {
	redacted, vault := Redact("Pay $1,200 by January 10 at 12% interest.")
	assert.NotContains(t, redacted, "1,200")

	assert.Equal(t, "Customer agreed to pay $1,200 by January 10.", vault.Restore("Customer agreed to pay [MONEY_1] by [DATE_1]."))
	assert.Equal(t, "unknown [MONEY_9] stays", vault.Restore("unknown [MONEY_9] stays"))
	assert.Equal(t, "rate 12%", vault.Restore("rate [RATE_1]"))
}
