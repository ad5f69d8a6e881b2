package cache

import (
	"net/url"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "endpoint only",
			key:  Key{Endpoint: "/buckets/blog/collections/posts/records"},
			want: "vessel:buckets/blog/collections/posts/records",
		},
		{
			name: "query params sorted",
			key: Key{
				Endpoint: "/records",
				Query: url.Values{
					"_sort":  []string{"-last_modified"},
					"_limit": []string{"10"},
				},
			},
			want: "vessel:records:_limit=10:_sort=-last_modified",
		},
		{
			name: "empty endpoint",
			key:  Key{Endpoint: "/"},
			want: "vessel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_Deterministic(t *testing.T) {
	key := Key{
		Endpoint: "/records",
		Query: url.Values{
			"a": []string{"1"},
			"b": []string{"2"},
			"c": []string{"3"},
		},
	}

	first := key.String()
	for i := 0; i < 20; i++ {
		if got := key.String(); got != first {
			t.Fatalf("Key string unstable: %q vs %q", got, first)
		}
	}
}
