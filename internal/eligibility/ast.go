package eligibility

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Operator identifies one node kind in the rule AST.  The set is closed:
// adding an operator means adding a constant here, a parse case and an
// entry in the evaluation table, all of which are compile-checked.
type Operator string

const (
	OpAnd              Operator = "and"
	OpOr               Operator = "or"
	OpNot              Operator = "not"
	OpGroupMember      Operator = "group_member"
	OpRole             Operator = "role"
	OpMetadata         Operator = "metadata"
	OpSurveyCompleted  Operator = "survey_completed"
	OpSurveyApproved   Operator = "survey_approved"
	OpSurveyAllocated  Operator = "survey_allocated"
	OpDocumentVerified Operator = "document_verified"
	OpDocumentUploaded Operator = "document_uploaded"
	OpTimeWindow       Operator = "time_window"
	OpTimeBefore       Operator = "time_before"
	OpTimeAfter        Operator = "time_after"
	OpQuotaAvailable   Operator = "quota_available"
	OpCustom           Operator = "custom"
)

// Metadata comparators accepted by the metadata operator.  The ordering
// comparators coerce both sides to float64 before comparing.
const (
	CmpEquals   = "eq"
	CmpContains = "contains"
	CmpGT       = "gt"
	CmpLT       = "lt"
	CmpGTE      = "gte"
	CmpLTE      = "lte"
)

// Node is one parsed rule.  Only the fields relevant to Op are set;
// everything else stays zero.  Nodes are immutable once parsed and are
// never persisted — only the source JSON description is stored.
type Node struct {
	Op       Operator
	Children []*Node

	Group        string
	Role         string
	Key          string
	Cmp          string
	Value        string
	ReleaseID    uint64
	DocumentType string
	OptionID     *uint64
	Start        time.Time
	End          time.Time
	At           time.Time
	Min          int
	Name         string
	Params       json.RawMessage
}

// ParseError reports a structurally invalid rule description.  It is
// raised at parse time, before any evaluation happens, so rule authors
// can be told exactly which node is malformed.
type ParseError struct {
	Path string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid rule at %s: %s", e.Path, e.Msg)
}

// rawNode mirrors the persisted JSON shape of a single rule node.
type rawNode struct {
	Operator     string            `json:"operator"`
	Children     []json.RawMessage `json:"children"`
	Group        string            `json:"group"`
	Role         string            `json:"role"`
	Key          string            `json:"key"`
	Cmp          string            `json:"cmp"`
	Value        string            `json:"value"`
	ReleaseID    uint64            `json:"release_id"`
	DocumentType string            `json:"document_type"`
	OptionID     *uint64           `json:"option_id"`
	Start        string            `json:"start"`
	End          string            `json:"end"`
	At           string            `json:"at"`
	Min          int               `json:"min"`
	Name         string            `json:"name"`
	Params       json.RawMessage   `json:"params"`
}

// Parse turns a JSON rule description into a validated AST.  Any
// structural problem (unknown operator, missing operand, bad timestamp)
// is returned as a *ParseError naming the offending node path.
func Parse(raw json.RawMessage) (*Node, error) {
	return parseNode(raw, "$")
}

func parseNode(raw json.RawMessage, path string) (*Node, error) {
	var rn rawNode
	if err := json.Unmarshal(raw, &rn); err != nil {
		return nil, &ParseError{Path: path, Msg: "not a JSON object: " + err.Error()}
	}
	if rn.Operator == "" {
		return nil, &ParseError{Path: path, Msg: "missing operator"}
	}
	n := &Node{Op: Operator(rn.Operator)}
	switch n.Op {
	case OpAnd, OpOr:
		if len(rn.Children) == 0 {
			return nil, &ParseError{Path: path, Msg: string(n.Op) + " requires at least one child"}
		}
		for i, c := range rn.Children {
			child, err := parseNode(c, fmt.Sprintf("%s.children[%d]", path, i))
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
	case OpNot:
		if len(rn.Children) != 1 {
			return nil, &ParseError{Path: path, Msg: "not requires exactly one child"}
		}
		child, err := parseNode(rn.Children[0], path+".children[0]")
		if err != nil {
			return nil, err
		}
		n.Children = []*Node{child}
	case OpGroupMember:
		if rn.Group == "" {
			return nil, &ParseError{Path: path, Msg: "group_member requires group"}
		}
		n.Group = rn.Group
	case OpRole:
		if rn.Role == "" {
			return nil, &ParseError{Path: path, Msg: "role requires role"}
		}
		n.Role = rn.Role
	case OpMetadata:
		if rn.Key == "" {
			return nil, &ParseError{Path: path, Msg: "metadata requires key"}
		}
		switch rn.Cmp {
		case CmpEquals, CmpContains, CmpGT, CmpLT, CmpGTE, CmpLTE:
		default:
			return nil, &ParseError{Path: path, Msg: fmt.Sprintf("unknown comparator %q", rn.Cmp)}
		}
		n.Key, n.Cmp, n.Value = rn.Key, rn.Cmp, rn.Value
	case OpSurveyCompleted, OpSurveyApproved, OpSurveyAllocated:
		if rn.ReleaseID == 0 {
			return nil, &ParseError{Path: path, Msg: string(n.Op) + " requires release_id"}
		}
		n.ReleaseID = rn.ReleaseID
	case OpDocumentVerified, OpDocumentUploaded:
		if rn.DocumentType == "" {
			return nil, &ParseError{Path: path, Msg: string(n.Op) + " requires document_type"}
		}
		n.DocumentType = rn.DocumentType
		n.OptionID = rn.OptionID
	case OpTimeWindow:
		start, err := parseTime(rn.Start, path, "start")
		if err != nil {
			return nil, err
		}
		end, err := parseTime(rn.End, path, "end")
		if err != nil {
			return nil, err
		}
		if !end.After(start) {
			return nil, &ParseError{Path: path, Msg: "time_window end must be after start"}
		}
		n.Start, n.End = start, end
	case OpTimeBefore, OpTimeAfter:
		at, err := parseTime(rn.At, path, "at")
		if err != nil {
			return nil, err
		}
		n.At = at
	case OpQuotaAvailable:
		if rn.Min < 0 {
			return nil, &ParseError{Path: path, Msg: "quota_available min must not be negative"}
		}
		n.Min = rn.Min
	case OpCustom:
		if rn.Name == "" {
			return nil, &ParseError{Path: path, Msg: "custom requires name"}
		}
		n.Name = rn.Name
		n.Params = rn.Params
	default:
		return nil, &ParseError{Path: path, Msg: fmt.Sprintf("unknown operator %q", rn.Operator)}
	}
	return n, nil
}

func parseTime(s, path, field string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, &ParseError{Path: path, Msg: "missing " + field}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &ParseError{Path: path, Msg: fmt.Sprintf("bad %s timestamp %q", field, s)}
	}
	return t.UTC(), nil
}
