package ngram

import (
	"reflect"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"  Hello--World's 123!! ": "hello--world's 123 ",
		"":                        "",
		"!!!":                     "",
		"GREAT movie":             "great movie",
		"a\t\tb\nc":               "a b c",
		"don't re-do":             "don't re-do",
		"café au lait":            "caf au lait",
		"end.":                    "end ",
		"hello world ":            "hello world",
		"hello\n":                 "hello",
		"great movie\t":           "great movie",
		"\r\n  wow.  \r\n":        "wow ",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitize_Stable(t *testing.T) {
	inputs := []string{
		"  Hello--World's 123!! ",
		"trailing punctuation...",
		"   leading space",
		"MiXeD ,, CaSe ;; 42",
		"ünïcödé and emoji 🎉 too",
		"a  b   c",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if want := strings.TrimSuffix(once, " "); twice != want {
			t.Fatalf("Sanitize(%q) = %q, want %q", once, twice, want)
		}
		if thrice := Sanitize(twice); thrice != twice {
			t.Fatalf("Sanitize not stable for %q: %q then %q", in, twice, thrice)
		}
		if !reflect.DeepEqual(words(once), words(twice)) {
			t.Fatalf("Words changed on resanitizing %q: %v then %v", in, words(once), words(twice))
		}
	}
}

func learnAll(trie *TokenTrie, lines ...string) {
	for _, line := range lines {
		trie.Learn(line)
	}
}

func TestTokenTrie_LearnAndTokenize(t *testing.T) {
	trie := NewTokenTrie()
	learnAll(trie, "great movie", "terrible movie", "Great movie!")

	if n := trie.NumTokens(); n != 3 {
		t.Fatalf("Expected 3 tokens, got %d", n)
	}

	movie, ok := trie.Lookup("movie")
	if !ok {
		t.Fatalf("Expected 'movie' to be a token")
	}
	if n := trie.Occurrences(movie); n != 3 {
		t.Fatalf("Expected 'movie' 3 times, got %d", n)
	}
	if w := trie.Word(movie); w != "movie" {
		t.Fatalf("Expected word 'movie', got '%s'", w)
	}

	tokens := trie.Tokenize("a GREAT, great unknown movie")
	if len(tokens) != 3 {
		t.Fatalf("Expected 3 known tokens, got %d", len(tokens))
	}
	got := []string{trie.Word(tokens[0]), trie.Word(tokens[1]), trie.Word(tokens[2])}
	if want := []string{"great", "great", "movie"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}

	if _, ok := trie.Lookup("mov"); ok {
		t.Fatalf("Prefix 'mov' should not be a token")
	}
}

func TestTokenTrie_PruneKeepsPrefixes(t *testing.T) {
	trie := NewTokenTrie()
	learnAll(trie, "go gopher", "gopher gophers")

	trie.Prune(2)

	if n := trie.NumTokens(); n != 1 {
		t.Fatalf("Expected 1 token after prune, got %d", n)
	}
	if _, ok := trie.Lookup("go"); ok {
		t.Fatalf("'go' occurred once and should be pruned")
	}
	if _, ok := trie.Lookup("gophers"); ok {
		t.Fatalf("'gophers' occurred once and should be pruned")
	}
	id, ok := trie.Lookup("gopher")
	if !ok || trie.Occurrences(id) != 2 {
		t.Fatalf("Expected 'gopher' to survive with 2 occurrences")
	}

	tokens := trie.Tokenize("go gopher gophers")
	if len(tokens) != 1 || tokens[0] != id {
		t.Fatalf("Expected only 'gopher' to tokenize, got %v", tokens)
	}

	// "g", "go", ..., "gopher" plus the root
	if n := trie.NumNodes(); n != 7 {
		t.Fatalf("Expected 7 nodes after prune, got %d", n)
	}
}

func TestTokenTrie_PruneNeverIncreasesTokens(t *testing.T) {
	lines := []string{
		"the food was great and the staff were great",
		"the food was awful",
		"awful awful service",
		"the staff the staff the staff",
		"great-ish food isn't it",
	}
	for threshold := 1; threshold <= 6; threshold++ {
		trie := NewTokenTrie()
		learnAll(trie, lines...)
		before := trie.NumTokens()

		trie.Prune(threshold)

		if after := trie.NumTokens(); after > before {
			t.Fatalf("Prune(%d) increased tokens from %d to %d", threshold, before, after)
		}
		it := trie.Iterator()
		count := 0
		for it.Next() {
			count++
			if n := trie.Occurrences(it.Token()); n < threshold {
				t.Fatalf("Prune(%d) kept '%s' with %d occurrences", threshold, trie.Word(it.Token()), n)
			}
		}
		if count != trie.NumTokens() {
			t.Fatalf("Iterator found %d words, NumTokens is %d", count, trie.NumTokens())
		}
	}
}

func TestTokenTrie_ByIndex(t *testing.T) {
	trie := NewTokenTrie()
	learnAll(trie, "zebra apple", "apples banana", "band apple zebra")

	// unpruned arenas are in creation order, not pre-order
	trie.Index()
	for id := TokenID(0); int(id) < trie.NumNodes(); id++ {
		got, ok := trie.ByIndex(trie.IndexOf(id))
		if !ok || got != id {
			t.Fatalf("ByIndex(%d) = %d, %v; want %d", trie.IndexOf(id), got, ok, id)
		}
	}

	if _, ok := trie.ByIndex(int32(trie.NumNodes())); ok {
		t.Fatalf("Expected out-of-range index to be unresolved")
	}

	// pruning rebuilds the arena in pre-order
	trie.Prune(1)
	for i := 0; i < trie.NumNodes(); i++ {
		got, ok := trie.ByIndex(int32(i))
		if !ok || got != TokenID(i) {
			t.Fatalf("After prune ByIndex(%d) = %d, %v", i, got, ok)
		}
	}
	if idx := trie.IndexOf(rootToken); idx != 0 {
		t.Fatalf("Expected root index 0, got %d", idx)
	}
}

func TestTokenIterator_PreOrder(t *testing.T) {
	trie := NewTokenTrie()
	learnAll(trie, "band banana ban apple zebra", "apples")

	want := []string{"apple", "apples", "ban", "banana", "band", "zebra"}
	if got := trie.Vocabulary(0); !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	if got := trie.Vocabulary(2); !reflect.DeepEqual(got, want[:2]) {
		t.Fatalf("Expected %v, got %v", want[:2], got)
	}

	it := trie.Iterator()
	for i := 0; i < 3; i++ {
		if !it.Next() {
			t.Fatalf("Iterator ended early")
		}
	}
	it.Reset()
	if !it.Next() || trie.Word(it.Token()) != "apple" {
		t.Fatalf("Expected Reset to restart at 'apple'")
	}
}

func TestTokenIterator_Empty(t *testing.T) {
	it := NewTokenTrie().Iterator()
	if it.Next() {
		t.Fatalf("Expected no words in an empty trie")
	}
	if it.Token() != NoToken {
		t.Fatalf("Expected NoToken after exhaustion")
	}
}
