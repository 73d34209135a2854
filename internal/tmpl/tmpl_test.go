package tmpl

import (
	"reflect"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		tmpl     string
		vars     map[string]string
		expected string
	}{
		{"plain text", "hello world", nil, "hello world"},
		{"single var", "-H {{hostname}}", map[string]string{"hostname": "example.com"}, "-H example.com"},
		{"undefined var renders empty", "-H {{hostname}}", nil, "-H "},
		{"if true", "{%if vhost%} -H {{vhost}}{%endif%}", map[string]string{"vhost": "www"}, " -H www"},
		{"if false", "{%if vhost%} -H {{vhost}}{%endif%}", nil, ""},
		{"if empty string is false", "{%if vhost%}x{%endif%}", map[string]string{"vhost": ""}, ""},
		{"if else true", "{%if vhost%}{{vhost}}{%else%}{{hostname}}{%endif%}",
			map[string]string{"vhost": "www", "hostname": "host"}, "www"},
		{"if else false", "{%if vhost%}{{vhost}}{%else%}{{hostname}}{%endif%}",
			map[string]string{"hostname": "host"}, "host"},
		{"nested if", "{%if a%}A{%if b%}B{%endif%}{%endif%}",
			map[string]string{"a": "1", "b": "1"}, "AB"},
		{"nested if inner false", "{%if a%}A{%if b%}B{%endif%}{%endif%}",
			map[string]string{"a": "1"}, "A"},
		{"spaced tags", "{% if x %}y{% endif %}", map[string]string{"x": "1"}, "y"},
		{"bare brace is literal", "a { b", nil, "a { b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, tt.vars)
			if err != nil {
				t.Fatalf("Render(%q) error: %v", tt.tmpl, err)
			}
			if got != tt.expected {
				t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.expected)
			}
		})
	}
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
	}{
		{"unterminated var", "-H {{hostname"},
		{"unterminated tag", "{%if x"},
		{"missing endif", "{%if x%}y"},
		{"stray endif", "y{%endif%}"},
		{"stray else", "y{%else%}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Render(tt.tmpl, map[string]string{"x": "1"}); err == nil {
				t.Errorf("Render(%q) expected error, got nil", tt.tmpl)
			}
		})
	}
}

// The bundled monitor definitions exercise every template feature. Check
// that they expand to the argv an operator would expect.
func TestRenderSeedTemplates(t *testing.T) {
	tests := []struct {
		name     string
		tmpl     string
		vars     map[string]string
		expected []string
	}{
		{
			"ping",
			"-H {{hostname}} -w {{rtt}},{{pl}}% -c {{rtt}},{{pl}}%",
			map[string]string{"hostname": "10.0.0.1", "rtt": "500", "pl": "50"},
			[]string{"-H", "10.0.0.1", "-w", "500,50%", "-c", "500,50%"},
		},
		{
			"http minimal",
			"-I {{hostname}}{%if vhost%} -H {{vhost}}{%endif%} -f follow{%if match%} -s \"{{match}}\"{%endif%}{%if ssl%} -S --sni{%endif%}{%if url%} -u {{url}}{%endif%}",
			map[string]string{"hostname": "10.0.0.1", "url": "/"},
			[]string{"-I", "10.0.0.1", "-f", "follow", "-u", "/"},
		},
		{
			"http full ssl",
			"-I {{hostname}}{%if vhost%} -H {{vhost}}{%endif%} -f follow{%if match%} -s \"{{match}}\"{%endif%}{%if ssl%} -S --sni{%endif%}{%if url%} -u {{url}}{%endif%}",
			map[string]string{"hostname": "10.0.0.1", "vhost": "www.example.com", "match": "OK page", "ssl": "1", "url": "/status"},
			[]string{"-I", "10.0.0.1", "-H", "www.example.com", "-f", "follow", "-s", "OK page", "-S", "--sni", "-u", "/status"},
		},
		{
			"https cert age",
			"-I {{hostname}}{%if vhost%} -H {{vhost}}{%endif%} -C {{age}},{{age}} --sni",
			map[string]string{"hostname": "10.0.0.1", "age": "14"},
			[]string{"-I", "10.0.0.1", "-C", "14,14", "--sni"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rendered, err := Render(tt.tmpl, tt.vars)
			if err != nil {
				t.Fatalf("Render error: %v", err)
			}
			got := SplitArgs(rendered)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argv = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"simple", "-H host -w 500", []string{"-H", "host", "-w", "500"}},
		{"collapses whitespace", "  -H   host  ", []string{"-H", "host"}},
		{"quoted group", `-s "two words"`, []string{"-s", "two words"}},
		{"quote joins adjacent", `a"b c"d`, []string{"ab cd"}},
		{"empty quoted arg", `-s ""`, []string{"-s", ""}},
		{"empty string", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitArgs(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("SplitArgs(%q) = %#v, want %#v", tt.input, got, tt.expected)
			}
		})
	}
}
