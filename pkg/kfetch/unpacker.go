package kfetch

// unpackOpts carries the per-fetcher settings the unpacker needs without
// pulling in the whole cfg struct.
type unpackOpts struct {
	checkCRCs  bool
	keyDeser   Deserializer
	valueDeser Deserializer
}

// unpackMessageSet decodes raw into ConsumerRecords for tp. If the final
// entry in raw was truncated by the fetch size, it is returned separately
// as partial rather than folded into err, so the Fetch Response Processor
// can decide between "more data, try again" and RecordTooLarge.
func unpackMessageSet(tp TopicPartition, raw []byte, opts unpackOpts) (records []ConsumerRecord, partial *MessageSetEntry, err error) {
	entries, err := decodeMessageSet(raw)
	if err != nil {
		return nil, nil, err
	}
	if n := len(entries); n > 0 && entries[n-1].Partial {
		p := entries[n-1]
		partial = &p
		entries = entries[:n-1]
	}
	records, err = unpackEntries(tp, entries, opts)
	return records, partial, err
}

func unpackEntries(tp TopicPartition, entries []MessageSetEntry, opts unpackOpts) ([]ConsumerRecord, error) {
	var out []ConsumerRecord
	for _, e := range entries {
		if e.Msg == nil {
			continue
		}
		if opts.checkCRCs && !e.Msg.verifyCRC() {
			return nil, &InvalidMessageError{TopicPartition: tp, Offset: e.Offset}
		}

		if codec := e.Msg.Compression(); codec != CompressionNone {
			nested, err := decompress(codec, e.Msg.Value)
			if err != nil {
				return nil, err
			}
			nestedEntries, err := decodeMessageSet(nested)
			if err != nil {
				return nil, err
			}
			if n := len(nestedEntries); n > 0 && nestedEntries[n-1].Partial {
				nestedEntries = nestedEntries[:n-1] // a truncated tail inside a fully-received outer message can't happen honestly; drop defensively
			}
			sub, err := unpackEntries(tp, nestedEntries, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}

		key, err := applyDeserializer(opts.keyDeser, tp.Topic, e.Msg.Key)
		if err != nil {
			return nil, err
		}
		value, err := applyDeserializer(opts.valueDeser, tp.Topic, e.Msg.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, ConsumerRecord{
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Offset:    e.Offset,
			Key:       key,
			Value:     value,
		})
	}
	return out, nil
}

func applyDeserializer(d Deserializer, topic string, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if d == nil {
		d = identityDeserializer
	}
	return d(topic, raw)
}
