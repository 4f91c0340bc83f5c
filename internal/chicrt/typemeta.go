package chicrt

// typeMeta is one entry of the type_id-keyed glue registry spec.md §4.6
// Type metadata describes: size/align plus wasm function indices for the
// drop/clone/hash/eq glue the emitter generates per concrete type. A missing
// type_id reports zero for every field, matching a type with no glue at all.
type typeMeta struct {
	size, align          uint32
	dropGlue, cloneGlue  uint32
	hashGlue, eqGlue     uint32
}

// RegisterType lets the module builder publish one type's glue table before
// program execution starts; the emitter assigns type_id at compile time.
func (rt *Runtime) RegisterType(typeID int32, m typeMeta) {
	rt.typeTable[typeID] = m
}

func init() {
	lookup := func(field func(typeMeta) uint32) hostFunc {
		return func(rt *Runtime, args []Value) ([]Value, error) {
			if err := expect(args, KindI32); err != nil {
				return nil, err
			}
			m := rt.typeTable[args[0].I32]
			return []Value{I32(int32(field(m)))}, nil
		}
	}
	register("type_size", lookup(func(m typeMeta) uint32 { return m.size }))
	register("type_align", lookup(func(m typeMeta) uint32 { return m.align }))
	register("type_drop_glue", lookup(func(m typeMeta) uint32 { return m.dropGlue }))
	register("type_clone_glue", lookup(func(m typeMeta) uint32 { return m.cloneGlue }))
	register("type_hash_glue", lookup(func(m typeMeta) uint32 { return m.hashGlue }))
	register("type_eq_glue", lookup(func(m typeMeta) uint32 { return m.eqGlue }))
}
