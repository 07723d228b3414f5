package embedding

import (
	"strings"
	"unicode"
)

// BERT special token ids in the uncased MiniLM vocabulary.
const (
	padTokenID = 0
	clsTokenID = 101
	sepTokenID = 102
	vocabSize  = 30522
)

// firstWordID keeps hashed word ids clear of the special and unused rows of the vocabulary.
const firstWordID = 1000

// Encoding is the model input for one text, padded to the sequence length. Words counts the
// word tokens placed between [CLS] and [SEP].
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	Words         int
}

// Tokenizer encodes text for BERT-style models.
type Tokenizer interface {
	Encode(text string, seqLen int) Encoding
}

// HashTokenizer maps each normalized word to a hashed vocabulary id. It needs no vocabulary file.
type HashTokenizer struct{}

// Encode produces [CLS] w1 ... wn [SEP] followed by padding. Words past seqLen-2 are dropped;
// callers enforce the budget before encoding.
func (HashTokenizer) Encode(text string, seqLen int) Encoding {
	if seqLen < 2 {
		seqLen = 2
	}
	enc := Encoding{
		InputIDs:      make([]int64, seqLen),
		AttentionMask: make([]int64, seqLen),
		TokenTypeIDs:  make([]int64, seqLen),
	}
	enc.InputIDs[0], enc.AttentionMask[0] = clsTokenID, 1
	pos := 1
	for _, w := range SplitWords(text) {
		if pos >= seqLen-1 {
			break
		}
		term := NormalizeTerm(w)
		if term == "" {
			continue
		}
		enc.InputIDs[pos] = int64(firstWordID + HashString(term)%(vocabSize-firstWordID))
		enc.AttentionMask[pos] = 1
		pos++
	}
	enc.Words = pos - 1
	enc.InputIDs[pos], enc.AttentionMask[pos] = sepTokenID, 1
	for i := pos + 1; i < seqLen; i++ {
		enc.InputIDs[i] = padTokenID
	}
	return enc
}

// SplitWords splits text on Unicode whitespace.
func SplitWords(text string) []string {
	return strings.Fields(text)
}

// NormalizeTerm lowercases a word and strips leading and trailing punctuation.
func NormalizeTerm(word string) string {
	return strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}

// HashString returns a deterministic non-negative hash.
func HashString(s string) int {
	var h uint32
	for _, c := range s {
		h = 31*h + uint32(c)
	}
	return int(h & 0x7fffffff)
}
