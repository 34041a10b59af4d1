package verify

import "testing"

func TestDemangleLegacy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		symbol string
		want   string
	}{
		{"_ZN7mycrate4main17h8e14b2b1e7f046b3E", "mycrate::main"},
		{"_ZN7mycrate5tests8overflow17h0000000000000000E", "mycrate::tests::overflow"},
		{"_ZN3foo3barE", "foo::bar"},
		{"_ZN3foo4main17h1111111111111111E.llvm.2846747344864814791", "foo::main"},
		{"_ZN4what21_$LT$impl$u20$u32$GT$8do_thing17habcdef0123456789E", "what::<impl u32>::do_thing"},
		{"_ZN5alloc3vec12Vec$LT$T$GT$4push17h9f1a2b3c4d5e6f70E", "alloc::vec::Vec<T>::push"},
		{"_ZN4core3ops8function6FnOnce9call_once17hddc722ba17b1e68fE", "core::ops::function::FnOnce::call_once"},
	}
	for _, tc := range cases {
		got, ok := demangleLegacy(tc.symbol)
		if !ok {
			t.Fatalf("demangleLegacy(%q) not recognized", tc.symbol)
		}
		if got != tc.want {
			t.Fatalf("demangleLegacy(%q) = %q, want %q", tc.symbol, got, tc.want)
		}
	}
}

func TestDemangleLegacyRejectsForeignSymbols(t *testing.T) {
	t.Parallel()

	for _, symbol := range []string{
		"main",
		"rust_begin_unwind",
		"_ZN",
		"_ZN9shortE",
		"_ZNxfooE",
	} {
		if got, ok := demangleLegacy(symbol); ok {
			t.Fatalf("demangleLegacy(%q) = %q, want rejection", symbol, got)
		}
	}
}

func TestDemangleLegacyKeepsNonHashTail(t *testing.T) {
	t.Parallel()

	// A final segment only drops when it looks like a compiler hash; a
	// bare "h" with no hex digits is an ordinary path element.
	cases := []struct {
		symbol string
		want   string
	}{
		{"_ZN3foo4heapE", "foo::heap"},
		{"_ZN3foo1hE", "foo::h"},
		{"_ZN3foo5tests1hE", "foo::tests::h"},
	}
	for _, tc := range cases {
		got, ok := demangleLegacy(tc.symbol)
		if !ok || got != tc.want {
			t.Fatalf("demangleLegacy(%q) = %q, %v, want %q", tc.symbol, got, ok, tc.want)
		}
	}
}
