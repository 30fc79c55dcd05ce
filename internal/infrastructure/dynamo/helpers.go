package dynamo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// strKey builds a DynamoDB primary key map with a single string attribute.
func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

type updateExpr struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// buildUpdateExpr converts field->value pairs into a SET expression, plus a
// REMOVE clause for the given attributes. Keys are sorted so the output is
// deterministic. Values that are already attribute values pass through.
func buildUpdateExpr(set map[string]interface{}, remove ...string) (updateExpr, error) {
	ue := updateExpr{
		Names:  make(map[string]string),
		Values: make(map[string]types.AttributeValue),
	}
	if len(set) == 0 && len(remove) == 0 {
		return ue, fmt.Errorf("no fields to update")
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		av, ok := set[k].(types.AttributeValue)
		if !ok {
			var err error
			if av, err = attributevalue.Marshal(set[k]); err != nil {
				return ue, fmt.Errorf("marshal field %s: %w", k, err)
			}
		}
		ue.Names[nameKey] = k
		ue.Values[valueKey] = av
		if i == 0 {
			b.WriteString("SET ")
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = %s", nameKey, valueKey)
	}

	sorted := append([]string(nil), remove...)
	sort.Strings(sorted)
	for i, k := range sorted {
		nameKey := fmt.Sprintf("#r%d", i)
		ue.Names[nameKey] = k
		switch {
		case i > 0:
			b.WriteString(", ")
		case b.Len() > 0:
			b.WriteString(" REMOVE ")
		default:
			b.WriteString("REMOVE ")
		}
		b.WriteString(nameKey)
	}

	ue.Expr = b.String()
	return ue, nil
}
