package ics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkFromDescription(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "no link", in: "Jeopardy style, online", want: ""},
		{name: "plain", in: "Register at https://ctf.example/register now", want: "https://ctf.example/register"},
		{name: "first wins", in: "http://a.example/1 and https://b.example/2", want: "http://a.example/1"},
		{name: "trailing period", in: "Link: https://ctftime.org/event/2000.", want: "https://ctftime.org/event/2000"},
		{name: "in parentheses", in: "(see https://ctf.example/rules)", want: "https://ctf.example/rules"},
		{name: "query kept", in: "https://ctf.example/?id=5&x=1", want: "https://ctf.example/?id=5&x=1"},
		{
			name: "anchor",
			in:   `<p>Info</p><a href="https://ctf.example/reg">Register</a> https://other.example`,
			want: "https://ctf.example/reg",
		},
		{
			name: "markup without anchor",
			in:   "<p>Rules</p><p>https://ctf.example/rules</p>",
			want: "https://ctf.example/rules",
		},
		{
			name: "empty href falls back to text",
			in:   `<a href="">x</a><br/>https://ctf.example/discord`,
			want: "https://ctf.example/discord",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LinkFromDescription(tt.in))
		})
	}
}
