package semantic

import (
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
)

// toPayload converts an open payload map into Qdrant values. Unsupported
// types are stored as their string form.
func toPayload(m map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case nil:
		return pb.NewValueNull()
	case string:
		return pb.NewValueString(tv)
	case bool:
		return pb.NewValueBool(tv)
	case int:
		return pb.NewValueInt(int64(tv))
	case int32:
		return pb.NewValueInt(int64(tv))
	case int64:
		return pb.NewValueInt(tv)
	case uint32:
		return pb.NewValueInt(int64(tv))
	case uint64:
		return pb.NewValueInt(int64(tv))
	case float32:
		return pb.NewValueDouble(float64(tv))
	case float64:
		return pb.NewValueDouble(tv)
	case []any:
		vals := make([]*pb.Value, len(tv))
		for i, e := range tv {
			vals[i] = toValue(e)
		}
		return pb.NewValueFromList(vals...)
	case []string:
		vals := make([]*pb.Value, len(tv))
		for i, e := range tv {
			vals[i] = pb.NewValueString(e)
		}
		return pb.NewValueFromList(vals...)
	case []uint64:
		vals := make([]*pb.Value, len(tv))
		for i, e := range tv {
			vals[i] = pb.NewValueInt(int64(e))
		}
		return pb.NewValueFromList(vals...)
	case map[string]any:
		return pb.NewValueFromFields(toPayload(tv))
	default:
		return pb.NewValueString(fmt.Sprint(tv))
	}
}

// fromPayload converts Qdrant values back into plain Go values.
func fromPayload(m map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, e := range vals {
			out[i] = fromValue(e)
		}
		return out
	case *pb.Value_StructValue:
		return fromPayload(k.StructValue.GetFields())
	default:
		return nil
	}
}
