package module

import "github.com/Chic-lang/Chic-sub011/internal/wasmgen/binary"

// RuntimeImport names one chic_rt (or env) hook the emitted module depends
// on, by signature, independent of whether any particular program actually
// calls it — spec.md §4.5 "Imports" always begins the import section with
// the full runtime hook set.
type RuntimeImport struct {
	Module  string
	Name    string
	Params  []binary.ValueType
	Results []binary.ValueType
}

var i32 = binary.ValueTypeI32
var i64 = binary.ValueTypeI64

func sig(params, results []binary.ValueType) ([]binary.ValueType, []binary.ValueType) {
	return params, results
}

// StandardRuntimeImports returns the chic_rt + env import catalogue in a
// fixed, deterministic order: the core control hooks first (spec.md §6
// "Runtime import module"), then each themed family from §4.6.
func StandardRuntimeImports() []RuntimeImport {
	p := func(vs ...binary.ValueType) []binary.ValueType { return vs }
	mk := func(name string, params, results []binary.ValueType) RuntimeImport {
		return RuntimeImport{Module: "chic_rt", Name: name, Params: params, Results: results}
	}
	var out []RuntimeImport

	// Core control.
	out = append(out,
		mk("panic", p(i32), nil),
		mk("abort", p(i32), nil),
		mk("throw", p(i32, i64), nil),
		mk("await", p(i32, i32), p(i32)),
		mk("yield", p(i32), p(i32)),
		mk("async_cancel", p(i32), p(i32)),
		mk("borrow_shared", p(i32, i32), nil),
		mk("borrow_unique", p(i32, i32), nil),
		mk("borrow_release", p(i32), nil),
		mk("drop_resource", p(i32), nil),
	)

	// Allocator.
	out = append(out,
		mk("alloc", p(i32, i32, i32), nil),
		mk("alloc_zeroed", p(i32, i32, i32), nil),
		mk("realloc", p(i32, i32, i32, i32), nil),
		mk("free", p(i32), nil),
		mk("memcpy", p(i32, i32, i32), p(i32)),
		mk("memmove", p(i32, i32, i32), p(i32)),
		mk("memset", p(i32, i32, i32), p(i32)),
		mk("chic_rt_memcpy", p(i32, i32, i32), nil),
		mk("chic_rt_memmove", p(i32, i32, i32), nil),
		mk("chic_rt_memset", p(i32, i32), nil),
	)

	// Strings.
	out = append(out,
		mk("string_new", p(i32), nil),
		mk("string_with_capacity", p(i32, i32), nil),
		mk("string_from_slice", p(i32, i32), nil),
		mk("string_from_char", p(i32, i32), nil),
		mk("string_push_slice", p(i32, i32), p(i32)),
		mk("string_append_slice", p(i32, i32), p(i32)),
		mk("string_append_bool", p(i32, i32), p(i32)),
		mk("string_append_signed", p(i32, i64), p(i32)),
		mk("string_append_unsigned", p(i32, i64), p(i32)),
		mk("string_append_f32", p(i32, binary.ValueTypeF32), p(i32)),
		mk("string_append_f64", p(i32, binary.ValueTypeF64), p(i32)),
		mk("string_truncate", p(i32, i32), p(i32)),
		mk("string_reserve", p(i32, i32), p(i32)),
		mk("string_as_slice", p(i32, i32), nil),
		mk("string_clone", p(i32, i32), nil),
		mk("string_clone_slice", p(i32, i32), nil),
		mk("string_drop", p(i32), nil),
	)

	// Spans.
	out = append(out,
		mk("span_from_raw_const", p(i32, i32, i32, i32, i32), nil),
		mk("span_from_raw_mut", p(i32, i32, i32, i32, i32), nil),
		mk("span_slice_const", p(i32, i32, i32, i32), nil),
		mk("span_slice_mut", p(i32, i32, i32, i32), nil),
		mk("span_ptr_at_const", p(i32, i32), p(i32)),
		mk("span_ptr_at_mut", p(i32, i32), p(i32)),
		mk("span_copy_to", p(i32, i32), p(i32)),
	)

	// Vectors.
	out = append(out,
		mk("vec_with_capacity", p(i32, i32, i32, i32, i32), nil),
		mk("vec_clone", p(i32, i32), nil),
		mk("vec_drop", p(i32), nil),
		mk("vec_push", p(i32, i32), p(i32)),
		mk("vec_pop", p(i32, i32), p(i32)),
		mk("vec_get", p(i32, i32), p(i32)),
		mk("vec_set", p(i32, i32, i32), p(i32)),
		mk("vec_truncate", p(i32, i32), nil),
		mk("vec_reserve", p(i32, i32), p(i32)),
		mk("vec_into_array", p(i32), p(i32)),
		mk("array_into_vec", p(i32, i32), nil),
		mk("vec_copy_to_array", p(i32, i32), p(i32)),
	)

	// Hash set / map (shared surface, map variants suffixed _m).
	for _, suffix := range []string{"", "_m"} {
		out = append(out,
			mk("hash_insert"+suffix, p(i32, i32, i32), p(i32)),
			mk("hash_replace"+suffix, p(i32, i32, i32), p(i32)),
			mk("hash_contains"+suffix, p(i32, i32), p(i32)),
			mk("hash_get_ptr"+suffix, p(i32, i32), p(i32)),
			mk("hash_take"+suffix, p(i32, i32, i32), p(i32)),
			mk("hash_remove"+suffix, p(i32, i32), p(i32)),
			mk("hash_iter"+suffix, p(i32), p(i32)),
			mk("hash_iter_next"+suffix, p(i32, i32), p(i32)),
			mk("hash_bucket_state"+suffix, p(i32, i32), p(i32)),
			mk("hash_bucket_hash"+suffix, p(i32, i32), p(i32)),
			mk("hash_take_at"+suffix, p(i32, i32, i32), p(i32)),
			mk("hash_clear"+suffix, p(i32), nil),
			mk("hash_shrink_to"+suffix, p(i32, i32), p(i32)),
			mk("hash_reserve"+suffix, p(i32, i32), p(i32)),
		)
	}

	// Reference counting.
	out = append(out,
		mk("object_new", p(i32), p(i32)),
		mk("arc_new", p(i32, i32, i32, i32, i32, i32), nil),
		mk("arc_clone", p(i32), nil),
		mk("arc_drop", p(i32), nil),
		mk("arc_downgrade", p(i32), p(i32)),
		mk("weak_upgrade", p(i32), p(i32)),
		mk("arc_get", p(i32), p(i32)),
		mk("arc_get_mut", p(i32), p(i32)),
		mk("strong_count", p(i32), p(i32)),
		mk("weak_count", p(i32), p(i32)),
	)

	// Async scheduler.
	out = append(out,
		mk("await_future_once", p(i32), p(i32)),
		mk("await_future_blocking", p(i32, i32), p(i32)),
		mk("cancel_future", p(i32), nil),
		mk("async_token_new", nil, p(i32)),
		mk("async_token_state", p(i32), p(i32)),
		mk("async_token_cancel", p(i32), nil),
	)

	// Exception channel.
	out = append(out,
		mk("has_pending_exception", nil, p(i32)),
		mk("take_pending_exception", p(i32, i32), p(i32)),
	)

	// Type metadata and glue registry.
	out = append(out,
		mk("type_size", p(i32), p(i32)),
		mk("type_align", p(i32), p(i32)),
		mk("type_drop_glue", p(i32), p(i32)),
		mk("type_clone_glue", p(i32), p(i32)),
		mk("type_hash_glue", p(i32), p(i32)),
		mk("type_eq_glue", p(i32), p(i32)),
	)

	// MMIO.
	out = append(out,
		mk("mmio_read", p(i32, i32, i32), p(i64)),
		mk("mmio_write", p(i32, i64, i32, i32), nil),
	)

	// 128-bit integers: one signed entry point per op, plus a separate "_u"
	// unsigned entry point for div, rem, cmp, shl and shr.
	for _, op := range []string{"add", "sub", "mul", "div", "rem", "cmp", "eq", "neg", "not", "and", "or", "xor", "shl", "shr"} {
		out = append(out, mk("i128_"+op, p(i32, i32, i32), nil))
		switch op {
		case "div", "rem", "cmp", "shl", "shr":
			out = append(out, mk("i128_"+op+"_u", p(i32, i32, i32), nil))
		}
	}

	// env: host I/O, best-effort shims (spec.md §6 "A secondary import module env").
	env := func(name string, params, results []binary.ValueType) RuntimeImport {
		return RuntimeImport{Module: "env", Name: name, Params: params, Results: results}
	}
	out = append(out,
		env("write", p(i32, i32, i32), p(i32)),
		env("read", p(i32, i32, i32), p(i32)),
		env("isatty", p(i32), p(i32)),
		env("monotonic_nanos", nil, p(i64)),
		env("sleep_millis", p(i64), nil),
		env("pthread_create_stub", p(i32, i32), p(i32)),
		env("socket_stub", p(i32, i32, i32), p(i32)),
	)

	return out
}
