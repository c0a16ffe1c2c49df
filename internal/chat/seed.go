package chat

import "context"

// DefaultGuidelines is the starter catalogue for a Spanish-speaking sales desk.
func DefaultGuidelines() []Guideline {
	return []Guideline{
		{Title: "Precio", Content: "Si preguntan precio, no dar cifra y proponer reunión", Strength: StrengthHard, Priority: 10,
			Triggers: []string{"precio", "coste", "cuesta", "cuánto cuesta", "tarifa"}},
		{Title: "Tono", Content: "Usar un tono cercano y positivo", Strength: StrengthSoft, Priority: 7},
		{Title: "Contexto del Cliente", Content: "Siempre preguntar por el contexto del cliente antes de dar recomendaciones", Strength: StrengthHard, Priority: 9,
			Triggers: []string{"recomendación", "sugerencia", "consejo", "qué me recomiendas"}},
		{Title: "Jerga Técnica", Content: "Evitar usar jerga técnica sin explicar", Strength: StrengthSoft, Priority: 6,
			Triggers: []string{"técnico", "tecnología", "implementación", "api", "backend"}},
		{Title: "Confirmar Entendimiento", Content: "Confirmar entendimiento del cliente antes de proceder", Strength: StrengthHard, Priority: 8,
			Triggers: []string{"proceder", "continuar", "siguiente", "avanzar"}},
		{Title: "Personalización", Content: "Siempre enfatizar la personalización de la solución", Strength: StrengthSoft, Priority: 7,
			Triggers: []string{"solución", "servicio", "producto", "implementar"}},
		{Title: "Seguimiento", Content: "Proponer seguimiento y soporte continuo", Strength: StrengthSoft, Priority: 6,
			Triggers: []string{"después", "post-venta", "soporte", "mantenimiento"}},
		{Title: "Casos de Éxito", Content: "Mencionar casos de éxito relevantes cuando sea apropiado", Strength: StrengthSoft, Priority: 5,
			Triggers: []string{"ejemplos", "casos", "experiencia", "clientes"}},
		{Title: "Urgencia", Content: "Identificar y responder a señales de urgencia del cliente", Strength: StrengthHard, Priority: 9,
			Triggers: []string{"urgente", "rápido", "inmediato", "pronto"}},
		{Title: "Objeción de Precio", Content: "Cuando hay objeciones de precio, enfocarse en el valor y ROI", Strength: StrengthHard, Priority: 8,
			Triggers: []string{"caro", "costoso", "no puedo pagar", "presupuesto"}},
	}
}

// SeedGuidelines inserts the default catalogue when no guideline exists yet.
// It returns how many guidelines were created.
func (s *Service) SeedGuidelines(ctx context.Context) (int, error) {
	n, err := s.repo.CountGuidelines(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	created := 0
	for _, g := range DefaultGuidelines() {
		g.Active = true
		if err := s.CreateGuideline(ctx, &g); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
