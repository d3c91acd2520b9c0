package serialbus

// cobsEncode appends the consistent overhead byte stuffed form of src to dst.
// The output never contains FRAME_MARKER.
func cobsEncode(dst, src []byte) []byte {
	codeIdx := len(dst)
	dst = append(dst, 0)
	code := byte(1)

	for _, b := range src {
		if b == FRAME_MARKER {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}

		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}

	dst[codeIdx] = code
	return dst
}

// cobsDecode reverses cobsEncode, appending to dst. A zero code byte or a code
// pointing past the end of src is a stuffing violation.
func cobsDecode(dst, src []byte) ([]byte, error) {
	for i := 0; i < len(src); {
		code := src[i]
		if code == FRAME_MARKER {
			return nil, &FrameError{Kind: FrameErrorStuffing}
		}
		i++

		end := i + int(code) - 1
		if end > len(src) {
			return nil, &FrameError{Kind: FrameErrorStuffing}
		}
		dst = append(dst, src[i:end]...)
		i = end

		if code != 0xFF && i < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
