package voice

import "testing"

func TestSanitizeSpeechText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops markdown emphasis and list markers",
			in:   "**Your balance** is $1,250.40\n* Groceries: $45.20",
			want: "Your balance is 1,250.40 dollars Groceries: 45.20 dollars",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "See [your statement](https://bank.example.com/statement) online.",
			want: "See your statement online.",
		},
		{
			name: "removes code blocks and inline code",
			in:   "```json\n{\"a\":1}\n```\nDone `x`",
			want: "Done",
		},
		{
			name: "normalizes odd punctuation spacing",
			in:   "Hello***world///again",
			want: "Hello world again",
		},
		{
			name: "reads dollar amounts and symbols as words",
			in:   "You spent -$4.50 & saved 5%",
			want: "You spent minus 4.50 dollars and saved 5 percent",
		},
		{
			name: "empty stays empty",
			in:   "   ",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeSpeechText(tc.in)
			if got != tc.want {
				t.Fatalf("SanitizeSpeechText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
