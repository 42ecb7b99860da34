package plugin

// A tiny WebAssembly binary writer, enough to assemble test plugins that
// only deal in i32 values.

const (
	valI32 = 0x7f

	opUnreachable = 0x00
	opLoop        = 0x03
	opBr          = 0x0c
	opEnd         = 0x0b
	opCall        = 0x10
	opLocalGet    = 0x20
	opI32Load     = 0x28
	opI32Store    = 0x36
	opI32Const    = 0x41
	opI32Add      = 0x6a
)

type wasmFunc struct {
	module  string // imports only
	name    string
	params  int
	results int
	body    []byte
}

type wasmData struct {
	offset int32
	bytes  []byte
}

type wasmModule struct {
	imports []wasmFunc
	funcs   []wasmFunc
	data    []wasmData
	pages   uint32
}

func (w *wasmModule) bytes() []byte {
	var types, imports, funcs, exports, codes, datas [][]byte
	for i, f := range w.imports {
		types = append(types, funcType(f.params, f.results))
		imports = append(imports, concat(wasmName(f.module), wasmName(f.name), []byte{0x00}, uleb(uint32(i))))
	}
	for i, f := range w.funcs {
		idx := uint32(len(w.imports) + i)
		types = append(types, funcType(f.params, f.results))
		funcs = append(funcs, uleb(idx))
		if f.name != "" {
			exports = append(exports, concat(wasmName(f.name), []byte{0x00}, uleb(idx)))
		}
		body := concat([]byte{0x00}, f.body, []byte{opEnd})
		codes = append(codes, concat(uleb(uint32(len(body))), body))
	}
	exports = append(exports, concat(wasmName("memory"), []byte{0x02}, uleb(0)))
	for _, d := range w.data {
		datas = append(datas, concat([]byte{0x00}, i32c(d.offset), []byte{opEnd}, wasmName(string(d.bytes))))
	}
	pages := w.pages
	if pages == 0 {
		pages = 2
	}

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, vec(types...))...)
	if len(imports) > 0 {
		out = append(out, section(2, vec(imports...))...)
	}
	out = append(out, section(3, vec(funcs...))...)
	out = append(out, section(5, vec(concat([]byte{0x00}, uleb(pages))))...)
	out = append(out, section(7, vec(exports...))...)
	out = append(out, section(10, vec(codes...))...)
	if len(datas) > 0 {
		out = append(out, section(11, vec(datas...))...)
	}
	return out
}

func funcType(params, results int) []byte {
	out := append([]byte{0x60}, uleb(uint32(params))...)
	for i := 0; i < params; i++ {
		out = append(out, valI32)
	}
	out = append(out, uleb(uint32(results))...)
	for i := 0; i < results; i++ {
		out = append(out, valI32)
	}
	return out
}

func section(id byte, body []byte) []byte {
	return concat([]byte{id}, uleb(uint32(len(body))), body)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmName(s string) []byte { return append(uleb(uint32(len(s))), s...) }

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func i32c(v int32) []byte       { return append([]byte{opI32Const}, sleb(v)...) }
func localGet(i uint32) []byte  { return append([]byte{opLocalGet}, uleb(i)...) }
func call(i uint32) []byte      { return append([]byte{opCall}, uleb(i)...) }
func load(addr int32) []byte    { return concat(i32c(addr), []byte{opI32Load, 0x02, 0x00}) }
func store(addr int32, value []byte) []byte {
	return concat(i32c(addr), value, []byte{opI32Store, 0x02, 0x00})
}

func tickFunc(body ...[]byte) wasmFunc {
	return wasmFunc{name: tickExport, params: 3, body: concat(body...)}
}

func hostImport(name string, params, results int) wasmFunc {
	return wasmFunc{module: hostModule, name: name, params: params, results: results}
}

// counterModule bumps the word at 0x100 on every tick and records its
// arguments at 0x104, 0x108 and 0x10c.
func counterModule() *wasmModule {
	return &wasmModule{funcs: []wasmFunc{tickFunc(
		store(0x100, concat(load(0x100), i32c(1), []byte{opI32Add})),
		store(0x104, localGet(0)),
		store(0x108, localGet(1)),
		store(0x10c, localGet(2)),
	)}}
}

func trapModule() *wasmModule {
	return &wasmModule{funcs: []wasmFunc{tickFunc([]byte{opUnreachable})}}
}

func spinModule() *wasmModule {
	return &wasmModule{funcs: []wasmFunc{tickFunc([]byte{opLoop, 0x40, opBr, 0x00, opEnd})}}
}
