package message

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// ParseFunc converts raw payload text into the typed field set of one kind.
// Implementations must be deterministic and must not return a partial field
// set alongside an error.
type ParseFunc func(raw string) (FieldSet, error)

// parsers maps kinds to their parsing strategy. New kinds register here
// without touching the orchestrator.
var parsers = struct {
	m map[Kind]ParseFunc
	sync.RWMutex
}{m: map[Kind]ParseFunc{}}

// RegisterParser sets the parsing strategy for a kind.
func RegisterParser(k Kind, fn ParseFunc) {
	parsers.Lock()
	parsers.m[k] = fn
	parsers.Unlock()
}

// Parse runs the registered parser for the kind.
func Parse(k Kind, raw string) (FieldSet, error) {
	parsers.RLock()
	fn, ok := parsers.m[k]
	parsers.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no parser registered for kind %s", k.Code())
	}
	return fn(raw)
}

func init() {
	RegisterParser(KindReceivedGuarantee, parseReceivedGuarantee)
	RegisterParser(KindAmendment, parseAmendment)
	RegisterParser(KindAmendmentConfirmation, narrativeParser(KindAmendmentConfirmation, true))
	RegisterParser(KindAcknowledgement, narrativeParser(KindAcknowledgement, true))
	RegisterParser(KindDiscrepancyAdvice, narrativeParser(KindDiscrepancyAdvice, true))
	RegisterParser(KindFreeFormat, narrativeParser(KindFreeFormat, false))
}

// Wire tags of the supported grammar.
const (
	tagReference       = "20"
	tagRelatedRef      = "21"
	tagSequence        = "27"
	tagAmendmentNumber = "26E"
	tagIssueDate       = "30"
	tagExpiryDate      = "31E"
	tagCurrencyAmount  = "32B"
	tagApplicant       = "50"
	tagBeneficiary     = "59"
	tagDetails         = "77C"
	tagNarrative       = "79"
)

var tagLine = regexp.MustCompile(`^:(\d{2}[A-Z]?):(.*)$`)

// scanTags splits the raw text into a tag -> value map. A line starting with
// ":NN:" opens a tag; subsequent lines are folded into the open tag's value.
func scanTags(raw string) (map[string]string, error) {
	tags := map[string]string{}
	var open string

	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := tagLine.FindStringSubmatch(line); m != nil {
			if _, seen := tags[m[1]]; seen {
				return nil, fmt.Errorf("tag :%s: appears more than once", m[1])
			}
			open = m[1]
			tags[open] = m[2]
			continue
		}
		if open == "" {
			return nil, fmt.Errorf("text before the first tag: %q", line)
		}
		tags[open] += "\n" + line
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("no tags found in payload")
	}
	return tags, nil
}

// take pops a tag value out of the scanned map so that whatever remains ends
// up in the Extra escape hatch.
func take(tags map[string]string, tag string) (string, bool) {
	v, ok := tags[tag]
	if ok {
		delete(tags, tag)
	}
	return v, ok
}

func requireTags(tags map[string]string, kind Kind, required ...string) error {
	var missing []string
	for _, t := range required {
		if _, ok := tags[t]; !ok {
			missing = append(missing, ":"+t+":")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s payload is missing required tags %s", kind.Code(), strings.Join(missing, " "))
	}
	return nil
}

// fillCommon extracts the shared tags into CommonFields and stows any
// remaining tags in Extra.
func fillCommon(c *CommonFields, tags map[string]string) error {
	c.Reference, _ = take(tags, tagReference)
	c.RelatedReference, _ = take(tags, tagRelatedRef)
	c.SequenceNumber, c.SequenceTotal = 1, 1
	if seq, ok := take(tags, tagSequence); ok {
		parts := strings.SplitN(seq, "/", 2)
		if len(parts) != 2 {
			return fmt.Errorf("sequence %q is not in n/m form", seq)
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return fmt.Errorf("sequence number %q: %v", parts[0], err)
		}
		m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return fmt.Errorf("sequence total %q: %v", parts[1], err)
		}
		c.SequenceNumber, c.SequenceTotal = n, m
	}
	if len(tags) > 0 {
		c.Extra = tags
	}
	return nil
}

func parseReceivedGuarantee(raw string) (FieldSet, error) {
	tags, err := scanTags(raw)
	if err != nil {
		return nil, err
	}
	if err := requireTags(tags, KindReceivedGuarantee,
		tagReference, tagCurrencyAmount, tagIssueDate, tagExpiryDate, tagApplicant, tagBeneficiary); err != nil {
		return nil, err
	}
	f := &GuaranteeFields{}
	f.CurrencyAmount, _ = take(tags, tagCurrencyAmount)
	f.IssueDate, _ = take(tags, tagIssueDate)
	f.ExpiryDate, _ = take(tags, tagExpiryDate)
	f.Applicant, _ = take(tags, tagApplicant)
	f.Beneficiary, _ = take(tags, tagBeneficiary)
	f.Details, _ = take(tags, tagDetails)
	if err := fillCommon(&f.CommonFields, tags); err != nil {
		return nil, err
	}
	return f, nil
}

func parseAmendment(raw string) (FieldSet, error) {
	tags, err := scanTags(raw)
	if err != nil {
		return nil, err
	}
	if err := requireTags(tags, KindAmendment, tagReference, tagRelatedRef, tagAmendmentNumber); err != nil {
		return nil, err
	}
	f := &AmendmentFields{}
	num, _ := take(tags, tagAmendmentNumber)
	f.AmendmentNumber, err = strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return nil, fmt.Errorf("amendment number %q: %v", num, err)
	}
	f.CurrencyAmount, _ = take(tags, tagCurrencyAmount)
	f.ExpiryDate, _ = take(tags, tagExpiryDate)
	f.Details, _ = take(tags, tagDetails)
	if err := fillCommon(&f.CommonFields, tags); err != nil {
		return nil, err
	}
	return f, nil
}

// narrativeParser builds the parser shared by the four reference+free-text
// kinds. relatedRequired distinguishes the correlated kinds from free format.
func narrativeParser(k Kind, relatedRequired bool) ParseFunc {
	return func(raw string) (FieldSet, error) {
		tags, err := scanTags(raw)
		if err != nil {
			return nil, err
		}
		required := []string{tagReference}
		if relatedRequired {
			required = append(required, tagRelatedRef)
		}
		if err := requireTags(tags, k, required...); err != nil {
			return nil, err
		}
		f := &NarrativeFields{MessageKind: k}
		if v, ok := take(tags, tagNarrative); ok {
			f.Narrative = v
		} else if v, ok := take(tags, tagDetails); ok {
			f.Narrative = v
		}
		if err := fillCommon(&f.CommonFields, tags); err != nil {
			return nil, err
		}
		return f, nil
	}
}
