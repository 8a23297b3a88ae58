// Package plugins is the composition root that registers capability
// handlers (telegram_*, llm_query, rag_search, mongo_*) against the
// Step-Handler Registry, the same way the engine registers its own
// built-ins. Handlers follow the executor's handleAction/handleInput
// style: read typed params off step.Params via ctxval helpers, call the
// capability, translate the result into a handler.Outcome.
package plugins

import (
	"context"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/handler"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

// Dependencies carries the capability implementations to wire. A nil
// field skips registering that plugin's handlers, so a deployment can run
// with only the capabilities it has credentials for.
type Dependencies struct {
	Messaging plugin.Messaging
	LLM       plugin.LLM
	RAG       plugin.RAG
	Storage   plugin.Storage
}

// Register installs handlers for every non-nil capability in deps onto r.
func Register(r *handler.Registry, deps Dependencies) {
	if deps.Messaging != nil {
		r.RegisterFunc("telegram_send_message", handleTelegramSend(deps.Messaging))
		r.RegisterFunc("telegram_edit_message", handleTelegramEdit(deps.Messaging))
	}
	if deps.LLM != nil {
		r.RegisterFunc("llm_query", handleLLMQuery(deps.LLM))
	}
	if deps.RAG != nil {
		r.RegisterFunc("rag_search", handleRAGSearch(deps.RAG))
	}
	if deps.Storage != nil {
		r.RegisterFunc("mongo_insert_one", handleMongoInsertOne(deps.Storage))
		r.RegisterFunc("mongo_find_one", handleMongoFindOne(deps.Storage))
		r.RegisterFunc("mongo_update_one", handleMongoUpdateOne(deps.Storage))
		r.RegisterFunc("mongo_delete_one", handleMongoDeleteOne(deps.Storage))
	}
}

func paramKeyboard(step handler.ResolvedStep) [][]plugin.InlineKeyboardButton {
	raw, ok := step.Params["inline_keyboard"].([]any)
	if !ok {
		return nil
	}
	rows := make([][]plugin.InlineKeyboardButton, 0, len(raw))
	for _, rowRaw := range raw {
		cells, ok := rowRaw.([]any)
		if !ok {
			continue
		}
		row := make([]plugin.InlineKeyboardButton, 0, len(cells))
		for _, cellRaw := range cells {
			cell, ok := cellRaw.(map[string]any)
			if !ok {
				continue
			}
			row = append(row, plugin.InlineKeyboardButton{
				Text:         ctxval.AsString(cell["text"]),
				CallbackData: ctxval.AsString(cell["callback_data"]),
			})
		}
		rows = append(rows, row)
	}
	return rows
}

func handleTelegramSend(m plugin.Messaging) func(handler.ResolvedStep, handler.Target) handler.Outcome {
	return func(step handler.ResolvedStep, target handler.Target) handler.Outcome {
		chatID := ctxval.AsString(step.Params["chat_id"])
		if chatID == "" {
			chatID = ctxval.AsString(target.Context["chat_id"])
		}
		if chatID == "" {
			return handler.Error("telegram_send_message: missing chat_id")
		}
		text := ctxval.AsString(step.Params["text"])
		result, err := m.Send(context.Background(), chatID, text, paramKeyboard(step))
		if err != nil {
			return handler.Errorf("telegram_send_message: %v", err)
		}
		// The sent message id is what a following input/callback_query step
		// correlates its waiting record against.
		target.Context["message_id_with_buttons"] = result.MessageID
		target.Context["__last_message_id"] = result.MessageID
		if ctxval.AsString(step.Params["output_var"]) != "" {
			return handler.Bind(map[string]any{"message_id": result.MessageID})
		}
		return handler.OK()
	}
}

func handleTelegramEdit(m plugin.Messaging) func(handler.ResolvedStep, handler.Target) handler.Outcome {
	return func(step handler.ResolvedStep, target handler.Target) handler.Outcome {
		chatID := ctxval.AsString(step.Params["chat_id"])
		if chatID == "" {
			chatID = ctxval.AsString(target.Context["chat_id"])
		}
		messageID := ctxval.AsString(step.Params["message_id"])
		if messageID == "" {
			// Default to the last buttons-bearing message sent by a
			// preceding telegram_send_message step.
			messageID = ctxval.AsString(target.Context["message_id_with_buttons"])
		}
		if chatID == "" || messageID == "" {
			return handler.Error("telegram_edit_message: missing chat_id or message_id")
		}
		text := ctxval.AsString(step.Params["text"])
		if err := m.Edit(context.Background(), chatID, messageID, text, paramKeyboard(step)); err != nil {
			return handler.Errorf("telegram_edit_message: %v", err)
		}
		return handler.OK()
	}
}

func handleLLMQuery(l plugin.LLM) func(handler.ResolvedStep, handler.Target) handler.Outcome {
	return func(step handler.ResolvedStep, target handler.Target) handler.Outcome {
		rawMessages, _ := step.Params["messages"].([]any)
		messages := make([]plugin.LLMMessage, 0, len(rawMessages))
		for _, rawMessage := range rawMessages {
			entry, ok := rawMessage.(map[string]any)
			if !ok {
				continue
			}
			messages = append(messages, plugin.LLMMessage{
				Role:    ctxval.AsString(entry["role"]),
				Content: ctxval.AsString(entry["content"]),
			})
		}
		if len(messages) == 0 {
			// No explicit message list: build one from system_prompt + prompt.
			if system := ctxval.AsString(step.Params["system_prompt"]); system != "" {
				messages = append(messages, plugin.LLMMessage{Role: "system", Content: system})
			}
			if prompt := ctxval.AsString(step.Params["prompt"]); prompt != "" {
				messages = append(messages, plugin.LLMMessage{Role: "user", Content: prompt})
			}
		}
		if len(messages) == 0 {
			return handler.Error("llm_query: no messages or prompt supplied")
		}

		temperature, _ := toFloat(step.Params["temperature"])
		maxTokens, _ := toFloat(step.Params["max_tokens"])

		resp, err := l.Query(context.Background(), plugin.LLMRequest{
			Model:       ctxval.AsString(step.Params["model"]),
			Messages:    messages,
			Temperature: temperature,
			MaxTokens:   int(maxTokens),
		})
		if err != nil {
			return handler.Errorf("llm_query: %v", err)
		}
		return handler.Bind(map[string]any{
			"status": resp.Status,
			"text":   resp.Text,
			"model":  resp.Model,
			"usage":  resp.Usage,
			"raw":    resp.Raw,
		})
	}
}

func handleRAGSearch(rag plugin.RAG) func(handler.ResolvedStep, handler.Target) handler.Outcome {
	return func(step handler.ResolvedStep, target handler.Target) handler.Outcome {
		query := ctxval.AsString(step.Params["query"])
		if query == "" {
			return handler.Error("rag_search: missing query")
		}
		topK, _ := toFloat(step.Params["top_k"])
		if topK <= 0 {
			topK = 5
		}
		collection := ctxval.AsString(step.Params["collection"])

		docs, err := rag.Search(context.Background(), query, int(topK), collection)
		if err != nil {
			return handler.Errorf("rag_search: %v", err)
		}
		out := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			out = append(out, map[string]any{
				"id":      d.ID,
				"content": d.Content,
				"score":   d.Score,
				"meta":    d.Meta,
			})
		}
		return handler.Bind(out)
	}
}

func mongoArgs(step handler.ResolvedStep) (collection string, document, filter, update map[string]any) {
	collection = ctxval.AsString(step.Params["collection"])
	document, _ = step.Params["document"].(map[string]any)
	filter, _ = step.Params["filter"].(map[string]any)
	update, _ = step.Params["update"].(map[string]any)
	return
}

func storageOutcome(res plugin.StorageResult, err error, op string) handler.Outcome {
	if err != nil {
		return handler.Errorf("%s: %v", op, err)
	}
	return handler.Bind(map[string]any{
		"inserted_id":    res.InsertedID,
		"document":       res.Document,
		"found":          res.Found,
		"modified_count": res.ModifiedCount,
		"deleted_count":  res.DeletedCount,
	})
}

func handleMongoInsertOne(s plugin.Storage) func(handler.ResolvedStep, handler.Target) handler.Outcome {
	return func(step handler.ResolvedStep, target handler.Target) handler.Outcome {
		collection, document, _, _ := mongoArgs(step)
		if collection == "" {
			return handler.Error("mongo_insert_one: missing collection")
		}
		res, err := s.InsertOne(context.Background(), collection, document)
		return storageOutcome(res, err, "mongo_insert_one")
	}
}

func handleMongoFindOne(s plugin.Storage) func(handler.ResolvedStep, handler.Target) handler.Outcome {
	return func(step handler.ResolvedStep, target handler.Target) handler.Outcome {
		collection, _, filter, _ := mongoArgs(step)
		if collection == "" {
			return handler.Error("mongo_find_one: missing collection")
		}
		res, err := s.FindOne(context.Background(), collection, filter)
		return storageOutcome(res, err, "mongo_find_one")
	}
}

func handleMongoUpdateOne(s plugin.Storage) func(handler.ResolvedStep, handler.Target) handler.Outcome {
	return func(step handler.ResolvedStep, target handler.Target) handler.Outcome {
		collection, _, filter, update := mongoArgs(step)
		if collection == "" {
			return handler.Error("mongo_update_one: missing collection")
		}
		res, err := s.UpdateOne(context.Background(), collection, filter, update)
		return storageOutcome(res, err, "mongo_update_one")
	}
}

func handleMongoDeleteOne(s plugin.Storage) func(handler.ResolvedStep, handler.Target) handler.Outcome {
	return func(step handler.ResolvedStep, target handler.Target) handler.Outcome {
		collection, _, filter, _ := mongoArgs(step)
		if collection == "" {
			return handler.Error("mongo_delete_one: missing collection")
		}
		res, err := s.DeleteOne(context.Background(), collection, filter)
		return storageOutcome(res, err, "mongo_delete_one")
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
