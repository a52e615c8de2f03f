package metaval

import "encoding/json"

// wireValue is the JSON-serializable shape of a Value, used for index
// persistence (spec §4.2.7) and external-store round-tripping. Map keys are
// sorted by encoding/json automatically, which keeps save→save round-trips
// byte-identical.
type wireValue struct {
	Kind string                `json:"kind"`
	Str  string                `json:"str,omitempty"`
	Num  float64               `json:"num,omitempty"`
	Bool bool                  `json:"bool,omitempty"`
	List []wireValue           `json:"list,omitempty"`
	Map  map[string]wireValue  `json:"map,omitempty"`
}

var kindNames = map[Kind]string{
	KindNull:   "null",
	KindString: "string",
	KindNumber: "number",
	KindBool:   "bool",
	KindList:   "list",
	KindMap:    "map",
}

var namesToKind = map[string]Kind{
	"null":   KindNull,
	"string": KindString,
	"number": KindNumber,
	"bool":   KindBool,
	"list":   KindList,
	"map":    KindMap,
}

func (v Value) toWire() wireValue {
	w := wireValue{Kind: kindNames[v.kind]}
	switch v.kind {
	case KindString:
		w.Str = v.str
	case KindNumber:
		w.Num = v.num
	case KindBool:
		w.Bool = v.b
	case KindList:
		w.List = make([]wireValue, len(v.list))
		for i, it := range v.list {
			w.List[i] = it.toWire()
		}
	case KindMap:
		w.Map = make(map[string]wireValue, len(v.m))
		for k, it := range v.m {
			w.Map[k] = it.toWire()
		}
	}
	return w
}

func fromWire(w wireValue) Value {
	kind := namesToKind[w.Kind]
	switch kind {
	case KindString:
		return String(w.Str)
	case KindNumber:
		return Number(w.Num)
	case KindBool:
		return Bool(w.Bool)
	case KindList:
		items := make([]Value, len(w.List))
		for i, it := range w.List {
			items[i] = fromWire(it)
		}
		return List(items...)
	case KindMap:
		m := make(map[string]Value, len(w.Map))
		for k, it := range w.Map {
			m[k] = fromWire(it)
		}
		return Map(m)
	default:
		return Null
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toWire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*v = fromWire(w)
	return nil
}
