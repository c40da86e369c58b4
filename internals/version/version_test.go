package version

import "testing"

func TestInfoString(t *testing.T) {
	cases := []struct {
		name string
		info Info
		want string
	}{
		{name: "no revision", info: Info{SemVer: "1.2.3"}, want: "1.2.3"},
		{name: "revision", info: Info{SemVer: "1.2.3", Revision: "a1b2c3d4e5f6"}, want: "1.2.3+a1b2c3d4e5f6"},
		{name: "dirty", info: Info{SemVer: "0.0.0-dev", Revision: "a1b2c3d4e5f6", Dirty: true}, want: "0.0.0-dev+a1b2c3d4e5f6.dirty"},
		{name: "existing metadata", info: Info{SemVer: "1.0.0+rc", Revision: "abc"}, want: "1.0.0+rc.abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.info.String(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestGetDefaultsSemVer(t *testing.T) {
	orig := SemVer
	SemVer = " "
	t.Cleanup(func() { SemVer = orig })

	if got := Get().SemVer; got != "0.0.0-dev" {
		t.Fatalf("expected fallback semver, got %q", got)
	}
}
