package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Project
		wantErr bool
	}{
		{name: "gcc", input: "gcc", want: GCC},
		{name: "llvm", input: "llvm", want: LLVM},
		{name: "clang alias", input: "clang", want: LLVM},
		{name: "mixed case", input: "GCC", want: GCC},
		{name: "whitespace", input: "  llvm ", want: LLVM},
		{name: "unknown", input: "msvc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProject(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestProjectNames(t *testing.T) {
	require.Equal(t, "gcc", GCC.String())
	require.Equal(t, "llvm", LLVM.String())

	require.Equal(t, "gcc", GCC.InstallName())
	require.Equal(t, "clang", LLVM.InstallName())

	require.Equal(t, "master", GCC.DefaultBranch())
	require.Equal(t, "main", LLVM.DefaultBranch())

	require.Equal(t, "gcc", GCC.RepoDirName())
	require.Equal(t, "llvm-project", LLVM.RepoDirName())
}

func TestProjectDriver(t *testing.T) {
	require.Equal(t, "gcc", GCC.Driver(false))
	require.Equal(t, "g++", GCC.Driver(true))
	require.Equal(t, "clang", LLVM.Driver(false))
	require.Equal(t, "clang++", LLVM.Driver(true))
}

func TestReleaseVersion(t *testing.T) {
	cases := []struct {
		name    string
		project Project
		tag     string
		want    string
		ok      bool
	}{
		{name: "gcc release", project: GCC, tag: "releases/gcc-12.1.0", want: "12.1.0", ok: true},
		{name: "gcc too old", project: GCC, tag: "releases/gcc-4.8.5", ok: false},
		{name: "gcc wrong scheme", project: GCC, tag: "llvmorg-15.0.0", ok: false},
		{name: "gcc basepoint tag", project: GCC, tag: "basepoints/gcc-12", ok: false},
		{name: "llvm release", project: LLVM, tag: "llvmorg-15.0.7", want: "15.0.7", ok: true},
		{name: "llvm rc filtered", project: LLVM, tag: "llvmorg-15.0.0-rc3", ok: false},
		{name: "llvm init filtered", project: LLVM, tag: "llvmorg-16-init", ok: false},
		{name: "llvm too old", project: LLVM, tag: "llvmorg-3.9.1", ok: false},
		{name: "llvm wrong scheme", project: LLVM, tag: "releases/gcc-12.1.0", ok: false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := tt.project.ReleaseVersion(tt.tag)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, v.String())
			}
		})
	}
}
