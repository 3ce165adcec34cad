package renderer

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
)

var (
	objHeaderRe  = regexp.MustCompile(`(?m)^(\d+) (\d+) obj`)
	streamOpenRe = regexp.MustCompile(`>>[ \r\n]*stream\r?\n`)
	lengthRe     = regexp.MustCompile(`/Length (\d+)`)
	objRefRe     = regexp.MustCompile(`(\d+) 0 R`)
	sizeRe       = regexp.MustCompile(`/Size \d+`)
)

// rawObject is one indirect object split into its rewritable text and its
// opaque stream payload. Only the text carries object references.
type rawObject struct {
	text    []byte // body up to and including "stream\n", or the whole body
	payload []byte // raw stream bytes, nil for non-stream objects
	footer  []byte // from the end of the payload through "endobj"
	refs    []int  // referenced object numbers, in order of appearance
}

// canonicalizePDF renumbers every indirect object by the order it is first
// reached from the trailer and rebuilds the xref table. gofpdf emits objects
// imported through gofpdi in Go map iteration order, so the same document can
// serialize with object ids permuted between runs; numbering by reference
// order depends only on document content. The input must be a freshly
// serialized single-xref document with direct /Length entries, which is the
// only shape gofpdf produces.
func canonicalizePDF(data []byte) ([]byte, error) {
	first := objHeaderRe.FindIndex(data)
	if first == nil {
		return nil, fmt.Errorf("no indirect objects found")
	}
	preamble := data[:first[0]]

	objects := make(map[int]*rawObject)
	var fileOrder []int
	cursor := first[0]

	for {
		loc := objHeaderRe.FindSubmatchIndex(data[cursor:])
		if loc == nil {
			break
		}
		num, err := strconv.Atoi(string(data[cursor+loc[2] : cursor+loc[3]]))
		if err != nil {
			return nil, fmt.Errorf("bad object header: %w", err)
		}
		rest := data[cursor+loc[1]:]
		bodyStart := cursor + loc[1]

		endobjIdx := bytes.Index(rest, []byte("endobj"))
		if endobjIdx < 0 {
			return nil, fmt.Errorf("object %d is not terminated", num)
		}

		obj := &rawObject{}
		if sLoc := streamOpenRe.FindIndex(rest); sLoc != nil && sLoc[0] < endobjIdx {
			// The payload may contain "endobj" bytes, so its extent comes
			// from /Length, never from scanning.
			dict := rest[:sLoc[1]]
			lm := lengthRe.FindSubmatch(dict)
			if lm == nil {
				return nil, fmt.Errorf("stream object %d has no direct /Length", num)
			}
			length, err := strconv.Atoi(string(lm[1]))
			if err != nil || sLoc[1]+length > len(rest) {
				return nil, fmt.Errorf("stream object %d has invalid /Length", num)
			}
			tail := rest[sLoc[1]+length:]
			endIdx := bytes.Index(tail, []byte("endobj"))
			if endIdx < 0 {
				return nil, fmt.Errorf("stream object %d is not terminated", num)
			}
			obj.text = dict
			obj.payload = rest[sLoc[1] : sLoc[1]+length]
			obj.footer = tail[:endIdx+len("endobj")]
			cursor = bodyStart + sLoc[1] + length + endIdx + len("endobj")
		} else {
			obj.text = rest[:endobjIdx]
			obj.footer = []byte("endobj")
			cursor = bodyStart + endobjIdx + len("endobj")
		}

		for _, m := range objRefRe.FindAllSubmatch(obj.text, -1) {
			ref, _ := strconv.Atoi(string(m[1]))
			obj.refs = append(obj.refs, ref)
		}
		objects[num] = obj
		fileOrder = append(fileOrder, num)
	}

	tail := data[cursor:]
	trailerIdx := bytes.Index(tail, []byte("trailer"))
	if trailerIdx < 0 {
		return nil, fmt.Errorf("no trailer found")
	}
	startxrefIdx := bytes.Index(tail[trailerIdx:], []byte("startxref"))
	if startxrefIdx < 0 {
		return nil, fmt.Errorf("no startxref found")
	}
	trailerDict := bytes.TrimSpace(tail[trailerIdx+len("trailer") : trailerIdx+startxrefIdx])

	// Number objects in trailer-reachable preorder. The order is a function
	// of the reference graph alone, not of the incoming object ids.
	renum := make(map[int]int, len(objects))
	var visit func(int)
	visit = func(oldNum int) {
		if _, seen := renum[oldNum]; seen {
			return
		}
		obj, ok := objects[oldNum]
		if !ok {
			return
		}
		renum[oldNum] = len(renum) + 1
		for _, ref := range obj.refs {
			visit(ref)
		}
	}
	for _, m := range objRefRe.FindAllSubmatch(trailerDict, -1) {
		ref, _ := strconv.Atoi(string(m[1]))
		visit(ref)
	}
	// Anything the trailer graph cannot reach cannot affect rendering; keep
	// it in file order so the document stays valid.
	for _, oldNum := range fileOrder {
		visit(oldNum)
	}

	rewrite := func(text []byte) []byte {
		return objRefRe.ReplaceAllFunc(text, func(m []byte) []byte {
			sub := objRefRe.FindSubmatch(m)
			oldNum, _ := strconv.Atoi(string(sub[1]))
			if newNum, ok := renum[oldNum]; ok {
				return []byte(fmt.Sprintf("%d 0 R", newNum))
			}
			return m
		})
	}

	byNew := make([]int, len(renum)+1)
	for oldNum, newNum := range renum {
		byNew[newNum] = oldNum
	}

	var out bytes.Buffer
	out.Write(preamble)

	offsets := make([]int, len(renum)+1)
	for newNum := 1; newNum <= len(renum); newNum++ {
		obj := objects[byNew[newNum]]
		offsets[newNum] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj", newNum)
		out.Write(rewrite(obj.text))
		if obj.payload != nil {
			out.Write(obj.payload)
		}
		out.Write(obj.footer)
		out.WriteByte('\n')
	}

	xrefOffset := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(renum)+1)
	out.WriteString("0000000000 65535 f \n")
	for newNum := 1; newNum <= len(renum); newNum++ {
		fmt.Fprintf(&out, "%010d 00000 n \n", offsets[newNum])
	}

	out.WriteString("trailer\n")
	trailer := sizeRe.ReplaceAll(rewrite(trailerDict), []byte(fmt.Sprintf("/Size %d", len(renum)+1)))
	out.Write(trailer)
	fmt.Fprintf(&out, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	return out.Bytes(), nil
}
